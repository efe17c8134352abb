package stage

import (
	"fmt"
	"time"

	"github.com/clipforge/clipforge-agent/internal/config"
)

// Spec binds a stage implementation to its execution policy from the
// pipeline definition.
type Spec struct {
	Stage       Stage
	MaxAttempts int
	Timeout     time.Duration
}

// Registry is the ordered, named stage list supplied at startup. Stage names
// are stable identifiers used in ledger rows and artifact keys.
type Registry struct {
	specs  []Spec
	byName map[string]int
}

// NewRegistry binds the pipeline definition to concrete implementations.
// Every declared stage must have an implementation under the same name.
func NewRegistry(def config.PipelineDef, impls map[string]Stage) (*Registry, error) {
	r := &Registry{byName: make(map[string]int, len(def.Stages))}

	for _, sd := range def.Stages {
		impl, ok := impls[sd.Name]
		if !ok {
			return nil, fmt.Errorf("no implementation for stage %q", sd.Name)
		}
		r.byName[sd.Name] = len(r.specs)
		r.specs = append(r.specs, Spec{
			Stage:       impl,
			MaxAttempts: sd.MaxAttempts,
			Timeout:     sd.Timeout,
		})
	}
	return r, nil
}

// Len returns the number of stages in pipeline order.
func (r *Registry) Len() int {
	return len(r.specs)
}

// At returns the spec at pipeline position i.
func (r *Registry) At(i int) Spec {
	return r.specs[i]
}

// Index returns the pipeline position of a stage name.
func (r *Registry) Index(name string) (int, bool) {
	i, ok := r.byName[name]
	return i, ok
}

// Names returns the ordered stage names.
func (r *Registry) Names() []string {
	names := make([]string, len(r.specs))
	for i, s := range r.specs {
		names[i] = s.Stage.Name()
	}
	return names
}
