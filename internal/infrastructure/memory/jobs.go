package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mrajeshsfdc/sfdoc/internal/ports"
)

var (
	_ ports.JobQueue     = (*JobRecorder)(nil)
	_ ports.BundleSource = (*BundleSource)(nil)
)

// JobRecorder captures enqueued units instead of running them.
type JobRecorder struct {
	mu        sync.Mutex
	units     []ports.Unit
	scheduled []ports.Unit
}

func (j *JobRecorder) Enqueue(_ context.Context, unit ports.Unit) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.units = append(j.units, unit)
	return nil
}

func (j *JobRecorder) ScheduleAfter(_ time.Duration, unit ports.Unit) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.scheduled = append(j.scheduled, unit)
}

// Units returns the enqueued units in order.
func (j *JobRecorder) Units() []ports.Unit {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.units)
}

// Scheduled returns the units handed to ScheduleAfter in order.
func (j *JobRecorder) Scheduled() []ports.Unit {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.scheduled)
}

// Drain returns and forgets the enqueued units.
func (j *JobRecorder) Drain() []ports.Unit {
	j.mu.Lock()
	defer j.mu.Unlock()
	units := j.units
	j.units = nil
	return units
}

// BundleSource serves archives registered by source id.
type BundleSource struct {
	mu       sync.Mutex
	archives map[string][]byte
}

// NewBundleSource returns an empty bundle source.
func NewBundleSource() *BundleSource {
	return &BundleSource{archives: map[string][]byte{}}
}

// Add registers the archive served for sourceID.
func (s *BundleSource) Add(sourceID string, archive []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archives[sourceID] = slices.Clone(archive)
}

func (s *BundleSource) Fetch(_ context.Context, sourceID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	archive, ok := s.archives[sourceID]
	if !ok {
		return nil, fmt.Errorf("bundle %s not available", sourceID)
	}
	return slices.Clone(archive), nil
}
