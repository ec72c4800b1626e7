package application

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/miguelbaldi/krust/internal/config"
	"github.com/miguelbaldi/krust/internal/domain"
	"github.com/miguelbaldi/krust/internal/registry"
	"github.com/miguelbaldi/krust/internal/session"
)

// SessionService exposes the session lifecycle: open, observe, page, export,
// resume, cancel and close.
type SessionService struct {
	repo    domain.ProfileRepository
	store   domain.MessageStore
	factory domain.ClientFactory
	reg     *registry.Registry
	engine  config.EngineConfig
}

// NewSessionService creates a new session service.
func NewSessionService(repo domain.ProfileRepository, store domain.MessageStore, factory domain.ClientFactory, reg *registry.Registry, engine config.EngineConfig) *SessionService {
	return &SessionService{
		repo:    repo,
		store:   store,
		factory: factory,
		reg:     reg,
		engine:  engine,
	}
}

// OpenSession creates a session and starts consuming. The id is returned
// even when startup fails: the FAILED session stays registered so its error
// can be inspected.
func (s *SessionService) OpenSession(ctx context.Context, profileName string, req domain.ConsumptionRequest) (string, error) {
	cfg, ok := s.repo.FindByName(profileName)
	if !ok {
		return "", ErrProfileNotFound
	}

	meta, err := s.factory.CreateMetadata(cfg)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	c := session.NewCoordinator(id, profileName, req, s.store, meta, s.factory.CreateFetcherFactory(cfg), s.engine)
	s.reg.Put(id, c)

	if err := c.Start(ctx); err != nil {
		return id, err
	}
	return id, nil
}

// ResumeSession replans a stopped session under the same id and continues
// from the highest cached offset per partition.
func (s *SessionService) ResumeSession(ctx context.Context, id string) error {
	old, ok := s.reg.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	st := old.State()
	if !st.Status.Terminal() {
		return ErrSessionNotTerminal
	}

	cfg, ok := s.repo.FindByName(st.ProfileName)
	if !ok {
		return ErrProfileNotFound
	}
	meta, err := s.factory.CreateMetadata(cfg)
	if err != nil {
		return err
	}

	c := session.NewCoordinator(id, st.ProfileName, st.Request, s.store, meta, s.factory.CreateFetcherFactory(cfg), s.engine)
	s.reg.Put(id, c)
	return c.Start(ctx)
}

// CancelSession requests a stop; the session settles at the next batch
// boundary.
func (s *SessionService) CancelSession(id string) error {
	c, ok := s.reg.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	c.Cancel()
	return nil
}

// CloseSession cancels the session, waits for it to settle and purges its
// cached rows.
func (s *SessionService) CloseSession(ctx context.Context, id string) error {
	c, ok := s.reg.Remove(id)
	if !ok {
		return ErrSessionNotFound
	}
	c.Cancel()
	c.Wait()
	return s.store.PurgeSession(ctx, id)
}

// ListSessions returns all registered sessions, newest first.
func (s *SessionService) ListSessions() []domain.SessionState {
	return s.reg.List()
}

// Status returns the session's current state snapshot.
func (s *SessionService) Status(id string) (domain.SessionState, error) {
	c, ok := s.reg.Get(id)
	if !ok {
		return domain.SessionState{}, ErrSessionNotFound
	}
	return c.State(), nil
}

// Subscribe returns the session's progress stream. The channel closes when
// the session reaches a terminal status.
func (s *SessionService) Subscribe(id string) (<-chan domain.ProgressEvent, error) {
	c, ok := s.reg.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return c.Events(), nil
}

// Page reads one page of cached messages. Pagination works the same whether
// the session is still running or already stopped.
func (s *SessionService) Page(ctx context.Context, id, cursor string, pageSize int, f *domain.Filter, order domain.SortOrder) (domain.Page, error) {
	if _, ok := s.reg.Get(id); !ok {
		return domain.Page{}, ErrSessionNotFound
	}
	if pageSize <= 0 {
		pageSize = s.engine.DefaultPageSize
	}
	return s.store.Page(ctx, id, cursor, pageSize, f, order)
}

// Count returns the number of cached messages matching the filter.
func (s *SessionService) Count(ctx context.Context, id string, f *domain.Filter) (int64, error) {
	if _, ok := s.reg.Get(id); !ok {
		return 0, ErrSessionNotFound
	}
	return s.store.Count(ctx, id, f)
}

// Export streams the session's cache to the sink as CSV on its own
// goroutine and returns the job handle.
func (s *SessionService) Export(ctx context.Context, id string, f *domain.Filter, sink io.Writer) (*session.ExportJob, error) {
	if _, ok := s.reg.Get(id); !ok {
		return nil, ErrSessionNotFound
	}
	job := session.NewExportJob(id, s.store, f, sink)
	job.Start(ctx)
	return job, nil
}

// ExportSync writes the session's cache to the sink as CSV and blocks until
// done. Used by the HTTP adapter where the sink is the response body.
func (s *SessionService) ExportSync(ctx context.Context, id string, f *domain.Filter, sink io.Writer) (*session.ExportJob, error) {
	if _, ok := s.reg.Get(id); !ok {
		return nil, ErrSessionNotFound
	}
	job := session.NewExportJob(id, s.store, f, sink)
	return job, job.Run(ctx)
}

// Shutdown cancels every session and waits for them to settle.
func (s *SessionService) Shutdown() {
	s.reg.CancelAll()
}
