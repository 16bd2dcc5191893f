package domain

import "time"

// Divergence describes one broker/store mismatch found during reconciliation.
type Divergence struct {
	Symbol     string
	PositionID string
	Detail     string
}

// ReconciliationReport is the output of a single reconciler pass. It is
// ephemeral: consumed by notification immediately, never persisted.
//
// Zombies are open in the store but absent from the broker. Orphans are held
// at the broker with no store record. Reverse orphans are closed in the
// store but still held at the broker. CriticalIssues are divergences the
// system refuses to auto-resolve.
type ReconciliationReport struct {
	Zombies        map[string]Divergence
	Orphans        map[string]Divergence
	ReverseOrphans map[string]Divergence
	CriticalIssues []string
	Healed         []string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// NewReconciliationReport returns an empty report stamped with the start time.
func NewReconciliationReport(now time.Time) *ReconciliationReport {
	return &ReconciliationReport{
		Zombies:        make(map[string]Divergence),
		Orphans:        make(map[string]Divergence),
		ReverseOrphans: make(map[string]Divergence),
		StartedAt:      now,
	}
}

// AddCritical appends an unresolvable divergence requiring human action.
func (r *ReconciliationReport) AddCritical(issue string) {
	r.CriticalIssues = append(r.CriticalIssues, issue)
}

// HasFindings reports whether the pass found any divergence at all.
func (r *ReconciliationReport) HasFindings() bool {
	return len(r.Zombies) > 0 ||
		len(r.Orphans) > 0 ||
		len(r.ReverseOrphans) > 0 ||
		len(r.CriticalIssues) > 0 ||
		len(r.Healed) > 0
}
