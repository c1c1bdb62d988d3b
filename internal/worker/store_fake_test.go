package worker

import (
	"context"
	"sync"

	"github.com/genieflow/genieflow/internal/common/errors"
	"github.com/genieflow/genieflow/internal/model"
	"github.com/genieflow/genieflow/internal/store"
)

// fakeLock is a no-op Lock for fakeStore, which has no real concurrency
// control - tests exercise Runtime's sequencing, not distributed locking.
type fakeLock struct{}

func (fakeLock) Release(ctx context.Context) error { return nil }

// fakeStore is an in-memory store.Store double for Runtime tests.
type fakeStore struct {
	mu       sync.Mutex
	models   map[string]*model.SessionModel
	progress map[string]*model.GenieTaskProgress
}

var _ store.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		models:   make(map[string]*model.SessionModel),
		progress: make(map[string]*model.GenieTaskProgress),
	}
}

func (s *fakeStore) AcquireLock(ctx context.Context, sessionID string) (store.Lock, error) {
	return fakeLock{}, nil
}

func (s *fakeStore) GetModel(ctx context.Context, sessionID string) (*model.SessionModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[sessionID]
	if !ok {
		return nil, errors.UnknownSession(sessionID)
	}
	return m, nil
}

func (s *fakeStore) PutModel(ctx context.Context, m *model.SessionModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[m.SessionID] = m
	return nil
}

func (s *fakeStore) ProgressStart(ctx context.Context, sessionID, taskID string, totalNrSubtasks int, eventToSendAfter string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[sessionID] = &model.GenieTaskProgress{
		SessionID:        sessionID,
		TaskID:           taskID,
		TotalNrSubtasks:  totalNrSubtasks,
		EventToSendAfter: eventToSendAfter,
	}
	return nil
}

func (s *fakeStore) ProgressExists(ctx context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.progress[sessionID]
	return ok, nil
}

func (s *fakeStore) ProgressUpdateTodo(ctx context.Context, sessionID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[sessionID]
	if !ok {
		return 0, errors.UnknownSession(sessionID)
	}
	p.TotalNrSubtasks += delta
	return p.TotalNrSubtasks, nil
}

func (s *fakeStore) ProgressUpdateDone(ctx context.Context, sessionID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[sessionID]
	if !ok {
		return 0, errors.UnknownSession(sessionID)
	}
	p.NrSubtasksExecuted += delta
	if p.Tombstone && p.NrSubtasksExecuted >= p.TotalNrSubtasks {
		delete(s.progress, sessionID)
	}
	return p.NrSubtasksExecuted, nil
}

func (s *fakeStore) ProgressTombstone(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[sessionID]
	if !ok {
		return errors.UnknownSession(sessionID)
	}
	p.Tombstone = true
	return nil
}

func (s *fakeStore) ProgressStatus(ctx context.Context, sessionID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[sessionID]
	if !ok {
		return 0, 0, errors.UnknownSession(sessionID)
	}
	return p.TotalNrSubtasks, p.NrSubtasksExecuted, nil
}

func (s *fakeStore) ProgressDelete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.progress, sessionID)
	return nil
}

func (s *fakeStore) ProgressRecord(ctx context.Context, sessionID string) (*model.GenieTaskProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[sessionID]
	if !ok {
		return nil, errors.UnknownSession(sessionID)
	}
	return p, nil
}
