package mappingprofile

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrProfileNotFound indicates an unknown profile id.
var ErrProfileNotFound = errors.New("profile not found")

// Registry holds the known profiles. The defaults are always present and
// may be overridden by id. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	mappings map[string]MappingProfile
	jobs     map[string]JobProfile
}

// NewRegistry returns a registry holding the built-in profiles.
func NewRegistry() *Registry {
	r := &Registry{
		mappings: map[string]MappingProfile{},
		jobs:     map[string]JobProfile{},
	}
	dm := DefaultMappingProfile()
	dj := DefaultJobProfile()
	r.mappings[dm.ID] = dm
	r.jobs[dj.ID] = dj
	return r
}

// LoadRegistry builds a registry from the bundles of dir. An empty dir
// yields the built-in profiles only.
func LoadRegistry(dir string) (*Registry, error) {
	r := NewRegistry()
	if dir == "" {
		return r, nil
	}
	bundles, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, b := range bundles {
		if err := r.Add(b); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers the profiles of b. Every job profile must reference a
// mapping profile known after the add.
func (r *Registry) Add(b *Bundle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range b.MappingProfiles {
		r.mappings[m.ID] = m
	}
	var errs ValidationErrors
	for i, j := range b.JobProfiles {
		if _, ok := r.mappings[j.MappingProfileID]; !ok {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("/jobProfiles/%d/mappingProfileId", i),
				Message: fmt.Sprintf("unknown mapping profile %q", j.MappingProfileID),
			})
			continue
		}
		r.jobs[j.ID] = j
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Resolve returns the job profile id and its mapping profile. An empty
// id resolves to the default job profile.
func (r *Registry) Resolve(jobProfileID string) (JobProfile, MappingProfile, error) {
	if jobProfileID == "" {
		jobProfileID = DefaultJobProfileID
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	jp, ok := r.jobs[jobProfileID]
	if !ok {
		return JobProfile{}, MappingProfile{}, fmt.Errorf("%w: job profile %s", ErrProfileNotFound, jobProfileID)
	}
	mp, ok := r.mappings[jp.MappingProfileID]
	if !ok {
		return JobProfile{}, MappingProfile{}, fmt.Errorf("%w: mapping profile %s", ErrProfileNotFound, jp.MappingProfileID)
	}
	return jp, mp, nil
}

// JobProfiles returns the registered job profiles ordered by name.
func (r *Registry) JobProfiles() []JobProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]JobProfile, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}
