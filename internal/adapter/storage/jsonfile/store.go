package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bnema/clipper/internal/domain"
	"github.com/bnema/clipper/internal/port"
)

const fileName = "clipper.json"

type state struct {
	Jobs     map[string]*domain.Job           `json:"jobs"`
	Sessions map[string]*domain.UploadSession `json:"sessions"`
	Clips    map[string][]domain.Clip         `json:"clips"`
	Tasks    map[string]*domain.Task          `json:"tasks"`
}

func newState() *state {
	return &state{
		Jobs:     make(map[string]*domain.Job),
		Sessions: make(map[string]*domain.UploadSession),
		Clips:    make(map[string][]domain.Clip),
		Tasks:    make(map[string]*domain.Task),
	}
}

// Store keeps the whole dataset in memory and rewrites a single JSON file on
// every committed change. Meant for development and tests.
type Store struct {
	mu   sync.Mutex
	path string
	st   *state
}

func NewStore(dataDir string) (*Store, error) {
	store := &Store{
		path: filepath.Join(dataDir, fileName),
		st:   newState(),
	}

	if err := store.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	return store, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return nil
	}

	st := newState()
	if err := json.Unmarshal(data, st); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}
	for id, j := range st.Jobs {
		if _, err := domain.ParseJobStatus(string(j.Status)); err != nil {
			return fmt.Errorf("job %s: %w", id, err)
		}
	}
	s.st = st
	return nil
}

func (s *Store) save(st *state) error {
	tmpPath := s.path + ".tmp"

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	return os.Rename(tmpPath, s.path)
}

// Atomic runs fn against a private copy of the state. The copy replaces the
// live state, and is flushed to disk, only if fn succeeds.
func (s *Store) Atomic(ctx context.Context, fn func(tx port.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&view{st: work}); err != nil {
		return err
	}
	if err := s.save(work); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	s.st = work
	return nil
}

func (s *Store) read() *view {
	return &view{st: s.st}
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateJob(ctx context.Context, j *domain.Job) error {
	return s.Atomic(ctx, func(tx port.Tx) error { return tx.CreateJob(ctx, j) })
}

func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetJob(ctx, id)
}

func (s *Store) UpdateJob(ctx context.Context, j *domain.Job) error {
	return s.Atomic(ctx, func(tx port.Tx) error { return tx.UpdateJob(ctx, j) })
}

func (s *Store) DeleteJob(ctx context.Context, id string) error {
	return s.Atomic(ctx, func(tx port.Tx) error { return tx.DeleteJob(ctx, id) })
}

func (s *Store) ListJobsCreatedBefore(ctx context.Context, status domain.JobStatus, cutoff time.Time) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().ListJobsCreatedBefore(ctx, status, cutoff)
}

func (s *Store) CreateSession(ctx context.Context, us *domain.UploadSession) error {
	return s.Atomic(ctx, func(tx port.Tx) error { return tx.CreateSession(ctx, us) })
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetSession(ctx, id)
}

func (s *Store) GetActiveSession(ctx context.Context, jobID string) (*domain.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetActiveSession(ctx, jobID)
}

func (s *Store) UpdateSession(ctx context.Context, us *domain.UploadSession) error {
	return s.Atomic(ctx, func(tx port.Tx) error { return tx.UpdateSession(ctx, us) })
}

func (s *Store) CreateClips(ctx context.Context, clips []domain.Clip) error {
	return s.Atomic(ctx, func(tx port.Tx) error { return tx.CreateClips(ctx, clips) })
}

func (s *Store) ListClips(ctx context.Context, jobID string) ([]domain.Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().ListClips(ctx, jobID)
}

func (st *state) clone() *state {
	c := newState()
	for id, j := range st.Jobs {
		c.Jobs[id] = cloneJob(j)
	}
	for id, us := range st.Sessions {
		c.Sessions[id] = cloneSession(us)
	}
	for id, clips := range st.Clips {
		c.Clips[id] = append([]domain.Clip(nil), clips...)
	}
	for id, t := range st.Tasks {
		cp := *t
		c.Tasks[id] = &cp
	}
	return c
}

func cloneJob(j *domain.Job) *domain.Job {
	cp := *j
	return &cp
}

func cloneSession(us *domain.UploadSession) *domain.UploadSession {
	cp := *us
	cp.CompletedParts = append([]domain.CompletedPart{}, us.CompletedParts...)
	return &cp
}

// view implements port.Tx over one state value. Everything it hands out or
// takes in is copied so callers never alias stored records.
type view struct {
	st *state
}

func (v *view) CreateJob(_ context.Context, j *domain.Job) error {
	if _, ok := v.st.Jobs[j.ID]; ok {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	v.st.Jobs[j.ID] = cloneJob(j)
	return nil
}

func (v *view) GetJob(_ context.Context, id string) (*domain.Job, error) {
	j, ok := v.st.Jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(j), nil
}

func (v *view) UpdateJob(_ context.Context, j *domain.Job) error {
	if _, ok := v.st.Jobs[j.ID]; !ok {
		return domain.ErrJobNotFound
	}
	v.st.Jobs[j.ID] = cloneJob(j)
	return nil
}

// DeleteJob removes the job and its sessions. Clips stay behind.
func (v *view) DeleteJob(_ context.Context, id string) error {
	if _, ok := v.st.Jobs[id]; !ok {
		return domain.ErrJobNotFound
	}
	delete(v.st.Jobs, id)
	for sid, us := range v.st.Sessions {
		if us.JobID == id {
			delete(v.st.Sessions, sid)
		}
	}
	return nil
}

func (v *view) ListJobsCreatedBefore(_ context.Context, status domain.JobStatus, cutoff time.Time) ([]*domain.Job, error) {
	var jobs []*domain.Job
	for _, j := range v.st.Jobs {
		if j.Status == status && j.CreatedAt.Before(cutoff) {
			jobs = append(jobs, cloneJob(j))
		}
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].CreatedAt.Before(jobs[b].CreatedAt) })
	return jobs, nil
}

func (v *view) CreateSession(_ context.Context, us *domain.UploadSession) error {
	if _, ok := v.st.Sessions[us.ID]; ok {
		return fmt.Errorf("upload session %s already exists", us.ID)
	}
	v.st.Sessions[us.ID] = cloneSession(us)
	return nil
}

func (v *view) GetSession(_ context.Context, id string) (*domain.UploadSession, error) {
	us, ok := v.st.Sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return cloneSession(us), nil
}

func (v *view) GetActiveSession(_ context.Context, jobID string) (*domain.UploadSession, error) {
	for _, us := range v.st.Sessions {
		if us.JobID == jobID && us.Status == domain.SessionStatusActive {
			return cloneSession(us), nil
		}
	}
	return nil, domain.ErrSessionNotFound
}

func (v *view) UpdateSession(_ context.Context, us *domain.UploadSession) error {
	if _, ok := v.st.Sessions[us.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	v.st.Sessions[us.ID] = cloneSession(us)
	return nil
}

func (v *view) CreateClips(_ context.Context, clips []domain.Clip) error {
	for _, c := range clips {
		v.st.Clips[c.JobID] = append(v.st.Clips[c.JobID], c)
	}
	return nil
}

func (v *view) ListClips(_ context.Context, jobID string) ([]domain.Clip, error) {
	clips := append([]domain.Clip{}, v.st.Clips[jobID]...)
	sort.Slice(clips, func(a, b int) bool { return clips[a].Index < clips[b].Index })
	return clips, nil
}

func (v *view) EnqueueTask(_ context.Context, t *domain.Task) error {
	cp := *t
	v.st.Tasks[t.ID] = &cp
	return nil
}

var (
	_ port.Store = (*Store)(nil)
	_ port.Tx    = (*view)(nil)
)
