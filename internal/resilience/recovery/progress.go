package recovery

import (
	"maps"
	"slices"
	"sync"
)

// Progress accumulates the intermediate state a caller wants salvaged if the
// operation it wraps ultimately fails. It is safe for concurrent use.
type Progress struct {
	mu        sync.Mutex
	total     int
	completed []string
	state     map[string]any
}

// NewProgress creates an accumulator expecting totalSteps sub-steps.
// Zero means the total is unknown.
func NewProgress(totalSteps int) *Progress {
	return &Progress{
		total: totalSteps,
		state: make(map[string]any),
	}
}

// SetTotal updates the expected number of sub-steps.
func (p *Progress) SetTotal(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = n
}

// Complete marks a sub-step as finished. Repeated names count once.
func (p *Progress) Complete(step string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slices.Contains(p.completed, step) {
		return
	}
	p.completed = append(p.completed, step)
}

// Record stores an intermediate value under key.
func (p *Progress) Record(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state[key] = value
}

// Snapshot returns a copy of the current progress.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ProgressSnapshot{
		Total:     p.total,
		Completed: slices.Clone(p.completed),
		State:     maps.Clone(p.state),
	}
}

// ProgressSnapshot is a point-in-time copy of a Progress.
type ProgressSnapshot struct {
	Total     int
	Completed []string
	State     map[string]any
}

// Completeness is finished steps over expected steps, in [0, 1]. With an
// unknown total the step that failed is counted as the one unfinished step.
func (s ProgressSnapshot) Completeness() float64 {
	done := len(s.Completed)
	if done == 0 {
		return 0
	}
	total := s.Total
	if total <= 0 {
		total = done + 1
	}
	return min(1, float64(done)/float64(total))
}
