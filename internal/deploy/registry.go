package deploy

import (
	"sort"
	"sync"
)

// Registry maps deployment ids to records. Entries live until an explicit stop.
// The lock guards the map only; deploys themselves are not serialized, so two
// concurrent deploys on the same ports leave the later one holding them.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*DeploymentRecord
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*DeploymentRecord)}
}

func (r *Registry) Put(rec *DeploymentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.DeploymentID] = rec
}

func (r *Registry) Get(id string) (*DeploymentRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return rec, ok
}

func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
}

// List returns all records, oldest first
func (r *Registry) List() []*DeploymentRecord {
	r.mu.RLock()
	out := make([]*DeploymentRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// ActiveCount counts records with a service still starting or running
func (r *Registry) ActiveCount() int {
	n := 0
	for _, rec := range r.List() {
		if rec.Active() {
			n++
		}
	}
	return n
}
