package provider

import "slices"

// Preferences is the selection policy of one request. Build a fresh value per
// request with DefaultPreferences.
type Preferences struct {
	// Preferred is returned when eligible, without scoring the others.
	Preferred string

	// CostOptimization ranks backends by ascending cost per token first.
	CostOptimization bool

	// PerformancePriority ranks backends by ascending latency first.
	PerformancePriority bool

	// FallbackEnabled lets an ineligible Preferred or override fall back to scoring.
	FallbackEnabled bool

	// MaxCost excludes backends costing more per token. Nil means no limit.
	MaxCost *float64

	Excluded []string

	// OperationOverrides pins an operation type to a backend id.
	OperationOverrides map[string]string
}

// DefaultPreferences returns the policy used when a caller passes none.
func DefaultPreferences() *Preferences {
	return &Preferences{FallbackEnabled: true}
}

// IsExcluded reports whether id was excluded by the caller.
func (p *Preferences) IsExcluded(id string) bool {
	return slices.Contains(p.Excluded, id)
}

// Pin returns the backend id pinned for operationType, if any. An operation
// override wins over Preferred.
func (p *Preferences) Pin(operationType string) string {
	if id, ok := p.OperationOverrides[operationType]; ok && id != "" {
		return id
	}
	return p.Preferred
}

// Exclude returns a copy of p that also excludes id.
func (p *Preferences) Exclude(id string) *Preferences {
	cp := *p
	cp.Excluded = append(slices.Clone(p.Excluded), id)
	return &cp
}
