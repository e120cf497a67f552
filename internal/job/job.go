// Package job defines the runnable job types and the registry the runner
// dispatches from. Each job is a self-contained unit of work over the
// engines and stores; the runner owns lifecycle and status reporting.
package job

import (
	"context"
	"sort"
	"sync"

	"github.com/bookprices/crawler/internal/bookprice"
)

// Job names as stored in the job catalog.
const (
	NameUpdatePrices     = "update_prices"
	NameTrimPrices       = "trim_prices"
	NameSearchBookstores = "search_bookstores"
	NameDownloadImages   = "download_images"
	NameCleanupFailed    = "cleanup_failed"
)

// Job is one runnable job type. Run receives the claimed job run so jobs
// can read their arguments.
type Job interface {
	Name() string
	Run(ctx context.Context, run bookprice.JobRun) error
}

// Registry maps job names to implementations.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewRegistry builds a Registry holding the given jobs.
func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{jobs: make(map[string]Job, len(jobs))}
	for _, j := range jobs {
		r.Register(j)
	}
	return r
}

// Register adds or replaces a job by name.
func (r *Registry) Register(j Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.Name()] = j
}

// Get returns the job registered under name.
func (r *Registry) Get(name string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[name]
	return j, ok
}

// Names returns the registered job names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
