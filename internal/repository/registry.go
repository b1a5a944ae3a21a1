// Package repository resolves repository origins and reconstructable
// pipelines to the definitions registered in the current process.
package repository

import (
	"fmt"
	"sort"
	"sync"

	"github.com/petrijr/pipehost/pkg/api"
)

// Registry holds repository definitions by name. It is safe for concurrent
// use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*api.RepositoryDefinition
}

// NewRegistry returns a registry holding repos. It panics if any of them is
// invalid, which suits package-level wiring in worker binaries.
func NewRegistry(repos ...*api.RepositoryDefinition) *Registry {
	r := &Registry{byName: make(map[string]*api.RepositoryDefinition)}
	for _, repo := range repos {
		if err := r.Register(repo); err != nil {
			panic(err)
		}
	}
	return r
}

// Register validates and adds repo.
func (r *Registry) Register(repo *api.RepositoryDefinition) error {
	if repo == nil {
		return fmt.Errorf("register repository: nil definition")
	}
	if err := repo.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[repo.Name]; exists {
		return fmt.Errorf("repository %q already registered", repo.Name)
	}
	r.byName[repo.Name] = repo
	return nil
}

// Get resolves origin.
func (r *Registry) Get(origin api.RepositoryOrigin) (*api.RepositoryDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	repo, ok := r.byName[origin.RepositoryName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", api.ErrRepositoryNotFound, origin.RepositoryName)
	}
	return repo, nil
}

// Pipeline resolves the full pipeline definition recon refers to, ignoring
// its solid selection.
func (r *Registry) Pipeline(recon api.ReconstructablePipeline) (*api.PipelineDefinition, error) {
	repo, err := r.Get(recon.Repository)
	if err != nil {
		return nil, err
	}
	return repo.Pipeline(recon.PipelineName)
}

// Reconstruct resolves recon and narrows the pipeline to its solid
// selection. An invalid selection yields *api.InvalidSubsetError.
func (r *Registry) Reconstruct(recon api.ReconstructablePipeline) (*api.PipelineDefinition, error) {
	p, err := r.Pipeline(recon)
	if err != nil {
		return nil, err
	}
	if len(recon.SolidSelection) == 0 {
		return p, nil
	}
	return p.SubsetForExecution(recon.SolidSelection)
}

// Names returns the registered repository names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
