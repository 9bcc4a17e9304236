package highlight

import (
	"sort"
	"sync"

	"ilview/internal/core/errors"
)

// Repository holds language definitions keyed by their short identifier.
type Repository struct {
	mu        sync.RWMutex
	languages map[string]*Language
}

// NewRepository returns a repository seeded with the given languages.
func NewRepository(langs ...*Language) (*Repository, error) {
	r := &Repository{languages: make(map[string]*Language, len(langs))}
	for _, l := range langs {
		if err := r.Load(l); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRepository returns a repository holding the built-in languages.
func DefaultRepository() *Repository {
	r, err := NewRepository(DefaultLanguages()...)
	if err != nil {
		panic(err)
	}
	return r
}

// Load registers a copy of lang, replacing any language with the same id.
func (r *Repository) Load(lang *Language) error {
	if lang == nil {
		return errors.New(errors.CodeValidationError, "language must not be nil")
	}
	if lang.ID == "" {
		return errors.AddContext(errors.New(errors.CodeValidationError, "language identifier must not be empty"),
			errors.CtxLanguage, lang.Name)
	}
	r.mu.Lock()
	r.languages[lang.ID] = lang.clone()
	r.mu.Unlock()
	return nil
}

// FindByID returns the language registered under id, or nil. The result is
// shared and must not be modified.
func (r *Repository) FindByID(id string) *Language {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.languages[id]
}

// All returns the registered languages ordered by id.
func (r *Repository) All() []*Language {
	r.mu.RLock()
	out := make([]*Language, 0, len(r.languages))
	for _, l := range r.languages {
		out = append(out, l)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
