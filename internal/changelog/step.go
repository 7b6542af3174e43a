package changelog

import (
	"context"

	"github.com/openmrs/openmrs-core-sub027/internal/repository"
)

// Step is what a rule sees while its changeset runs: the changeset's own
// transaction and a sink for the counters reported at the end of the run.
type Step struct {
	ChangesetID string
	Tx          repository.Querier
	Dialect     repository.Dialect

	counters map[string]int64
}

// NewStep is used by the runner and by tests that call a rule directly.
func NewStep(changesetID string, tx repository.Querier, d repository.Dialect) *Step {
	return &Step{ChangesetID: changesetID, Tx: tx, Dialect: d, counters: map[string]int64{}}
}

// Add increments a named counter, e.g. "orders.discontinue_created".
func (s *Step) Add(name string, n int64) {
	if s.counters == nil {
		s.counters = map[string]int64{}
	}
	s.counters[name] += n
}

// Counters returns a copy of the step counters.
func (s *Step) Counters() map[string]int64 {
	out := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}

// RuleFunc is the apply action of a rule changeset.
type RuleFunc func(ctx context.Context, step *Step) error

// Rules maps the rule names referenced from a changelog to their apply
// actions.
type Rules map[string]RuleFunc
