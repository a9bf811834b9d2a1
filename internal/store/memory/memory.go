// Package memory implements the store interfaces in process memory.
// It backs the dev mode (no DATABASE_URL) and the test suite.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"opsplane/internal/store"

	"github.com/google/uuid"
)

// Store is a mutex-guarded in-memory implementation of store.Store.
type Store struct {
	mu sync.Mutex

	nextJobID int64
	nextLogID int64

	jobs      map[int64]*store.Job
	logs      map[int64][]store.JobLog // keyed by job id
	playbooks map[int64]*store.Playbook
	servers   map[int64]*store.Server
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		jobs:      make(map[int64]*store.Job),
		logs:      make(map[int64][]store.JobLog),
		playbooks: make(map[int64]*store.Playbook),
		servers:   make(map[int64]*store.Server),
	}
}

// Ping always succeeds; memory is never unavailable.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// AddPlaybook seeds a playbook into the inventory.
func (s *Store) AddPlaybook(p *store.Playbook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.playbooks[p.ID] = &cp
}

// AddServer seeds a server into the inventory.
func (s *Store) AddServer(sv *store.Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sv
	s.servers[sv.ID] = &cp
}

func (s *Store) CreateJob(ctx context.Context, job *store.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(job)
	return nil
}

func (s *Store) CreateBatchJob(ctx context.Context, parent *store.Job, children []*store.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(parent)
	for _, child := range children {
		pid := parent.ID
		child.ParentJobID = &pid
		s.insertLocked(child)
	}
	return nil
}

// insertLocked assigns ids and stores a copy. Callers hold s.mu.
func (s *Store) insertLocked(job *store.Job) {
	s.nextJobID++
	job.ID = s.nextJobID
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = store.StatusPending
	}
	cp := cloneJob(job)
	s.jobs[job.ID] = cp
}

func (s *Store) GetJob(ctx context.Context, id int64) (*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *Store) GetJobByUUID(ctx context.Context, jobID uuid.UUID) (*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.JobID == jobID {
			return cloneJob(job), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetChildJobs(ctx context.Context, parentID int64) ([]*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var children []*store.Job
	for _, job := range s.jobs {
		if job.ParentJobID != nil && *job.ParentJobID == parentID {
			children = append(children, cloneJob(job))
		}
	}
	// Creation order is insertion order, which internal ids preserve.
	sort.Slice(children, func(i, j int) bool { return children[i].ID < children[j].ID })
	return children, nil
}

func (s *Store) ListJobs(ctx context.Context, filter store.JobFilter, limit, offset int) ([]*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Job
	for _, job := range s.jobs {
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		if filter.PlaybookID != nil && job.PlaybookID != *filter.PlaybookID {
			continue
		}
		if filter.ServerID != nil && job.ServerID != *filter.ServerID {
			continue
		}
		if filter.UserID != nil && job.UserID != *filter.UserID {
			continue
		}
		out = append(out, cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id int64, upd store.StatusUpdate) (*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	now := time.Now().UTC()
	job.Status = upd.Status
	if upd.ErrorMessage != "" {
		msg := upd.ErrorMessage
		job.ErrorMessage = &msg
	}
	if upd.Status == store.StatusRunning && job.StartedAt == nil {
		t := now
		job.StartedAt = &t
	}
	if upd.Status.Terminal() && job.CompletedAt == nil {
		t := now
		job.CompletedAt = &t
	}
	return cloneJob(job), nil
}

func (s *Store) SetDispatchHandle(ctx context.Context, id int64, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.DispatchHandle = handle
	return nil
}

func (s *Store) BulkInsertLogs(ctx context.Context, jobID int64, logs []store.JobLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return store.ErrNotFound
	}
	for _, l := range logs {
		s.nextLogID++
		l.ID = s.nextLogID
		l.JobID = jobID
		if l.Timestamp.IsZero() {
			l.Timestamp = time.Now().UTC()
		}
		s.logs[jobID] = append(s.logs[jobID], l)
	}
	return nil
}

func (s *Store) GetLogs(ctx context.Context, jobID int64, startLine, limit int) ([]store.JobLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.JobLog
	for _, l := range s.logs[jobID] {
		if startLine > 0 && l.LineNumber < startLine {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineNumber < out[j].LineNumber })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountLogs(ctx context.Context, jobID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs[jobID]), nil
}

func (s *Store) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for jobID, logs := range s.logs {
		kept := logs[:0]
		for _, l := range logs {
			if l.Timestamp.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, l)
		}
		s.logs[jobID] = kept
	}
	return deleted, nil
}

func (s *Store) Statistics(ctx context.Context, userID *int64) (*store.Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &store.Statistics{}
	for _, job := range s.jobs {
		if userID != nil && job.UserID != *userID {
			continue
		}
		stats.Total++
		switch job.Status {
		case store.StatusPending:
			stats.Pending++
		case store.StatusRunning:
			stats.Running++
		case store.StatusSuccess:
			stats.Success++
		case store.StatusFailed:
			stats.Failed++
		case store.StatusCancelled:
			stats.Cancelled++
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Total-stats.Failed) / float64(stats.Total) * 100
	}
	return stats, nil
}

func (s *Store) GetPlaybook(ctx context.Context, id int64) (*store.Playbook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.playbooks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) GetServer(ctx context.Context, id int64) (*store.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sv, ok := s.servers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sv
	return &cp, nil
}

func (s *Store) GetServers(ctx context.Context, ids []int64) ([]*store.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.Server, 0, len(ids))
	for _, id := range ids {
		sv, ok := s.servers[id]
		if !ok {
			return nil, store.ErrNotFound
		}
		cp := *sv
		out = append(out, &cp)
	}
	return out, nil
}

func cloneJob(job *store.Job) *store.Job {
	cp := *job
	if job.BatchConfig != nil {
		bc := *job.BatchConfig
		bc.ServerIDs = append([]int64(nil), job.BatchConfig.ServerIDs...)
		cp.BatchConfig = &bc
	}
	if job.ExtraVars != nil {
		vars := make(map[string]any, len(job.ExtraVars))
		for k, v := range job.ExtraVars {
			vars[k] = v
		}
		cp.ExtraVars = vars
	}
	if job.ErrorMessage != nil {
		msg := *job.ErrorMessage
		cp.ErrorMessage = &msg
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		cp.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		cp.CompletedAt = &t
	}
	if job.ParentJobID != nil {
		pid := *job.ParentJobID
		cp.ParentJobID = &pid
	}
	return &cp
}
