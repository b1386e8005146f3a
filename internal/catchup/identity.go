package catchup

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/geo-analyzer/internal/model"
)

// IdentityKey returns the version-tracking key for a request: its
// descriptive fields NFKC-normalized, case-folded and whitespace-collapsed,
// followed by the lowercased contact email.
func IdentityKey(req model.DiagnosisRequest) string {
	fold := cases.Fold()
	parts := []string{
		normalize(fold, req.CompanyName),
		normalize(fold, req.ProductName),
		normalize(fold, req.ProductDescription),
		normalize(fold, string(req.Industry)),
		strings.ToLower(strings.TrimSpace(req.WorkEmail)),
	}
	return strings.Join(parts, "|")
}

func normalize(fold cases.Caser, s string) string {
	s = fold.String(norm.NFKC.String(s))
	return strings.Join(strings.Fields(s), " ")
}
