package ml

import (
	"sync"
	"time"
)

// FlagSet tracks models flagged for retraining. The model-evaluation task
// flags, the retraining task drains.
type FlagSet struct {
	mu      sync.Mutex
	flagged map[string]time.Time
}

func NewFlagSet() *FlagSet {
	return &FlagSet{flagged: make(map[string]time.Time)}
}

// Flag marks the model for the next retraining cycle.
func (f *FlagSet) Flag(model string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.flagged[model]; !ok {
		f.flagged[model] = at
	}
}

// Drain returns the flagged models and clears the set.
func (f *FlagSet) Drain() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.flagged))
	for model := range f.flagged {
		out = append(out, model)
	}
	f.flagged = make(map[string]time.Time)
	return out
}

// Len returns the number of flagged models.
func (f *FlagSet) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.flagged)
}
