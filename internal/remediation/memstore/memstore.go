// Package memstore provides an in-memory implementation of remediation.Store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/remedy/internal/incident"
	"github.com/linnemanlabs/remedy/internal/remediation"
)

// Store holds remediation state in memory. Suitable for dev/testing.
type Store struct {
	mu         sync.RWMutex
	incidents  map[string]*incident.Incident
	results    map[string]*remediation.Result
	approvals  map[string]bool
	executions map[string][]*remediation.ExecutionRecord
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		incidents:  make(map[string]*incident.Incident),
		results:    make(map[string]*remediation.Result),
		approvals:  make(map[string]bool),
		executions: make(map[string][]*remediation.ExecutionRecord),
	}
}

// PutIncident stores a copy of the incident.
func (s *Store) PutIncident(_ context.Context, inc *incident.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *inc
	s.incidents[inc.ID] = &cp
	return nil
}

// GetIncident retrieves an incident by ID. Returns a copy.
func (s *Store) GetIncident(_ context.Context, id string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	cp := *inc
	return &cp, true, nil
}

// ListIncidents returns all incidents ordered by creation time, oldest first.
func (s *Store) ListIncidents(_ context.Context) ([]*incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*incident.Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		cp := *inc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// PutResult stores a copy of the pipeline result, replacing any previous one.
func (s *Store) PutResult(_ context.Context, r *remediation.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.results[r.IncidentID] = &cp
	return nil
}

// GetResult retrieves the pipeline result for an incident. Returns a copy.
func (s *Store) GetResult(_ context.Context, incidentID string) (*remediation.Result, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[incidentID]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

// SetApproval records the approval flag for an incident.
func (s *Store) SetApproval(_ context.Context, incidentID string, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals[incidentID] = approved
	return nil
}

// GetApproval reports the approval flag for an incident; unset means false.
func (s *Store) GetApproval(_ context.Context, incidentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.approvals[incidentID], nil
}

// AppendExecution appends a copy of the execution record. Records are
// never mutated after being appended.
func (s *Store) AppendExecution(_ context.Context, rec *remediation.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.executions[rec.IncidentID] = append(s.executions[rec.IncidentID], &cp)
	return nil
}

// ListExecutions returns the execution records for an incident in append
// order. Returns copies.
func (s *Store) ListExecutions(_ context.Context, incidentID string) ([]*remediation.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.executions[incidentID]
	out := make([]*remediation.ExecutionRecord, 0, len(recs))
	for _, r := range recs {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}
