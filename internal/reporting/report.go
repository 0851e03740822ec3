package reporting

import "bracket-lab/internal/domain"

// RunReport collects everything the run's Markdown report shows: the
// persisted summary plus the identifiers of the rule and fee model the run
// was executed with.
type RunReport struct {
	Summary *domain.RunSummary
	RuleID  string
	FeeID   string

	// Events is the number of market events the run walked.
	Events int
}
