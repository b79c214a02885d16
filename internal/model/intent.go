package model

// Intent is the closed category describing what the user wants from a turn.
type Intent string

const (
	IntentSearchPart         Intent = "search_part"
	IntentDiagnoseIssue      Intent = "diagnose_issue"
	IntentCompatibilityCheck Intent = "compatibility_check"
	IntentInstallationHelp   Intent = "installation_help"
	IntentProductDetails     Intent = "product_details"
	IntentGeneralQuestion    Intent = "general_question"
)

// Valid reports whether i is a member of the intent enumeration.
func (i Intent) Valid() bool {
	switch i {
	case IntentSearchPart, IntentDiagnoseIssue, IntentCompatibilityCheck,
		IntentInstallationHelp, IntentProductDetails, IntentGeneralQuestion:
		return true
	}
	return false
}

// Classification is the outcome of intent classification for one turn. It is
// immutable once produced; confidence is advisory only.
type Classification struct {
	Intent     Intent   `json:"intent"`
	Entities   Entities `json:"entities"`
	Confidence float64  `json:"confidence"`
}
