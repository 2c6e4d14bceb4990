package question

import (
	"github.com/stemsi/exstem-engine/internal/apperr"
	"github.com/stemsi/exstem-engine/internal/model"
)

// Registry maps a question type to its strategy. It is built once at startup
// and is read-only afterwards, so it is safe for concurrent use.
type Registry struct {
	strategies map[model.QuestionType]Strategy
}

// NewRegistry registers the given strategies. A later strategy with the same
// type replaces an earlier one.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[model.QuestionType]Strategy, len(strategies))}
	for _, s := range strategies {
		r.strategies[s.Type()] = s
	}
	return r
}

// NewDefaultRegistry returns a registry with the built-in choice types.
func NewDefaultRegistry() *Registry {
	return NewRegistry(SingleSelect{}, MultiSelect{})
}

// Get returns the strategy for t or an UnsupportedType error.
func (r *Registry) Get(t model.QuestionType) (Strategy, error) {
	s, ok := r.strategies[t]
	if !ok {
		return nil, apperr.UnsupportedType(string(t))
	}
	return s, nil
}

func (r *Registry) IsSupported(t model.QuestionType) bool {
	_, ok := r.strategies[t]
	return ok
}

// Types lists the registered type tags.
func (r *Registry) Types() []model.QuestionType {
	out := make([]model.QuestionType, 0, len(r.strategies))
	for t := range r.strategies {
		out = append(out, t)
	}
	return out
}
