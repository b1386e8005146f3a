package model

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sells-group/geo-analyzer/internal/apperr"
)

// Industry is the closed set of industries a diagnosis can target.
type Industry string

const (
	IndustrySaaS                Industry = "SaaS"
	IndustryConsumerElectronics Industry = "消费电子"
	IndustryFinance             Industry = "金融"
	IndustryEducation           Industry = "教育"
	IndustryOther               Industry = "其他"
)

// Industries lists every valid industry in display order.
var Industries = []Industry{
	IndustrySaaS,
	IndustryConsumerElectronics,
	IndustryFinance,
	IndustryEducation,
	IndustryOther,
}

// Valid reports whether i is a known industry.
func (i Industry) Valid() bool {
	for _, known := range Industries {
		if i == known {
			return true
		}
	}
	return false
}

// BenchmarkRate returns the industry's average AI recommendation rate in percent.
func (i Industry) BenchmarkRate() int {
	switch i {
	case IndustrySaaS:
		return 27
	case IndustryConsumerElectronics:
		return 25
	case IndustryFinance:
		return 24
	case IndustryEducation:
		return 22
	default:
		return 20
	}
}

// SensitiveKeywords block generation when found in a request or a provider response.
var SensitiveKeywords = []string{
	"政治",
	"暴力",
	"色情",
	"terror",
	"weapon",
	"极端",
}

// FindSensitive returns the first sensitive keyword contained in text
// (case-insensitive).
func FindSensitive(text string) (string, bool) {
	normalized := strings.ToLower(text)
	for _, kw := range SensitiveKeywords {
		if strings.Contains(normalized, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}

// DiagnosisRequest is a brand-visibility diagnosis submission.
type DiagnosisRequest struct {
	CompanyName        string   `json:"company_name" validate:"required"`
	ProductName        string   `json:"product_name" validate:"required"`
	ProductDescription string   `json:"product_description" validate:"required,min=10"`
	Industry           Industry `json:"industry" validate:"industry"`
	WorkEmail          string   `json:"work_email" validate:"required,email"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("industry", func(fl validator.FieldLevel) bool {
		return Industry(fl.Field().String()).Valid()
	})
	return v
}

var fieldMessages = map[string]string{
	"company_name":        "公司全称为必填项",
	"product_name":        "产品名称为必填项",
	"product_description": "产品描述至少需要 10 个字符",
	"industry":            "请选择有效的行业",
	"work_email":          "请输入有效的工作邮箱",
}

// Validate checks required fields, the description length (counted in
// characters after trimming), the industry enum and the email format, then
// scans every free-text field for sensitive keywords.
func (r DiagnosisRequest) Validate() error {
	trimmed := r.Trimmed()
	if err := validate.Struct(trimmed); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := verrs[0].Field()
			return &apperr.ValidationError{Field: field, Message: fieldMessages[field]}
		}
		return &apperr.ValidationError{Message: err.Error()}
	}

	for _, text := range []string{trimmed.CompanyName, trimmed.ProductName, trimmed.ProductDescription} {
		if kw, found := FindSensitive(text); found {
			return apperr.NewSensitiveContentError("request", kw)
		}
	}
	return nil
}

// Trimmed returns a copy with surrounding whitespace removed from every field.
func (r DiagnosisRequest) Trimmed() DiagnosisRequest {
	return DiagnosisRequest{
		CompanyName:        strings.TrimSpace(r.CompanyName),
		ProductName:        strings.TrimSpace(r.ProductName),
		ProductDescription: strings.TrimSpace(r.ProductDescription),
		Industry:           Industry(strings.TrimSpace(string(r.Industry))),
		WorkEmail:          strings.TrimSpace(r.WorkEmail),
	}
}

// NormalizedFullText joins the request's descriptive fields in lower case.
func (r DiagnosisRequest) NormalizedFullText() string {
	return strings.ToLower(strings.Join([]string{
		r.CompanyName,
		r.ProductName,
		r.ProductDescription,
		string(r.Industry),
	}, " "))
}
