package orchestrator

import (
	"fmt"
	"regexp"

	"github.com/sells-group/geo-analyzer/internal/model"
	"github.com/sells-group/geo-analyzer/pkg/chat"
)

var (
	emailRE   = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phoneRE   = regexp.MustCompile(`\b\d{3,4}-?\d{4,}\b`)
	addressRE = regexp.MustCompile(`[\p{L}\p{N}_]{0,10}(?:路|街|道|号)[\p{L}\p{N}_]*`)
)

// Redaction placeholders.
const (
	RedactedEmail   = "[REDACTED_EMAIL]"
	RedactedPhone   = "[REDACTED_PHONE]"
	RedactedAddress = "[REDACTED_ADDRESS]"
)

// Sanitize redacts email addresses, phone numbers and postal-address
// fragments from text before it leaves the process.
func Sanitize(text string) string {
	out := emailRE.ReplaceAllString(text, RedactedEmail)
	out = phoneRE.ReplaceAllString(out, RedactedPhone)
	return addressRE.ReplaceAllString(out, RedactedAddress)
}

// prompt is one rendered question for a provider.
type prompt struct {
	kind model.PromptKind
	text string
}

// DiscoveryPrompt asks for product recommendations matching the description.
func DiscoveryPrompt(req model.DiagnosisRequest) string {
	return fmt.Sprintf("推荐 5 款适合%s的产品。", Sanitize(req.ProductDescription))
}

// EvaluationPrompt asks for an opinion on the company's product.
func EvaluationPrompt(req model.DiagnosisRequest) string {
	return fmt.Sprintf("评价一下%s的%s怎么样？", Sanitize(req.CompanyName), Sanitize(req.ProductName))
}

func buildPrompts(req model.DiagnosisRequest) []prompt {
	return []prompt{
		{kind: model.PromptDiscovery, text: DiscoveryPrompt(req)},
		{kind: model.PromptEvaluation, text: EvaluationPrompt(req)},
	}
}

func (p prompt) messages() []chat.Message {
	return []chat.Message{{Role: "user", Content: p.text}}
}
