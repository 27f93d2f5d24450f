package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/school-admin-api/internal/dto"
	appErrors "github.com/noah-isme/school-admin-api/pkg/errors"
)

// Report session states.
const (
	SessionIdle    = "idle"
	SessionLoading = "loading"
	SessionReady   = "ready"
	SessionFailed  = "failed"
)

type reportComposer interface {
	Compose(ctx context.Context, params dto.ReportParams) (*dto.ReportView, bool, error)
}

// sessionComposer validates before a session commits to a new request.
type sessionComposer interface {
	reportComposer
	Validate(params dto.ReportParams) (ReportRequest, error)
}

// ReportSession tracks the report a user is currently looking at. Every Activate
// starts a fresh fetch; results of superseded fetches are discarded by generation.
type ReportSession struct {
	composer sessionComposer
	metrics  *MetricsService
	logger   *zap.Logger
	base     context.Context
	now      func() time.Time

	mu         sync.Mutex
	state      string
	generation uint64
	params     *dto.ReportParams
	view       *dto.ReportView
	err        *appErrors.Error
	updatedAt  time.Time
	cancel     context.CancelFunc
	done       chan struct{}

	inflight sync.WaitGroup
}

// NewReportSession builds an idle session. Fetches derive from base and stop when it is cancelled.
func NewReportSession(base context.Context, composer sessionComposer, metrics *MetricsService, logger *zap.Logger) *ReportSession {
	if base == nil {
		base = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportSession{
		composer:  composer,
		metrics:   metrics,
		logger:    logger,
		base:      base,
		now:       time.Now,
		state:     SessionIdle,
		updatedAt: time.Now().UTC(),
	}
}

// Activate moves the session to loading and fetches params in the background.
// It returns the generation assigned to this activation. Invalid params are
// rejected before the session changes, so the current view and fetch survive.
func (s *ReportSession) Activate(params dto.ReportParams) (uint64, error) {
	if _, err := s.composer.Validate(params); err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.supersedeLocked()
	s.generation++
	gen := s.generation
	ctx, cancel := context.WithCancel(s.base)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.state = SessionLoading
	p := params
	s.params = &p
	s.view = nil
	s.err = nil
	s.updatedAt = s.now().UTC()
	s.inflight.Add(1)
	s.mu.Unlock()

	go s.run(ctx, gen, params)
	return gen, nil
}

func (s *ReportSession) run(ctx context.Context, gen uint64, params dto.ReportParams) {
	defer s.inflight.Done()
	view, _, err := s.composer.Compose(ctx, params)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		s.metrics.IncStaleReport()
		s.logger.Debug("discarding stale report result", zap.Uint64("generation", gen), zap.Uint64("current", s.generation))
		return
	}
	if err != nil {
		s.state = SessionFailed
		s.err = appErrors.FromError(err)
	} else {
		s.state = SessionReady
		s.view = view
	}
	s.updatedAt = s.now().UTC()
	s.cancel()
	s.cancel = nil
	close(s.done)
	s.done = nil
}

// supersedeLocked cancels the in-flight fetch and wakes waiters. Caller holds mu.
func (s *ReportSession) supersedeLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
}

// Snapshot returns the current observable state.
func (s *ReportSession) Snapshot() dto.ReportSessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *ReportSession) snapshotLocked() dto.ReportSessionSnapshot {
	snap := dto.ReportSessionSnapshot{
		State:      s.state,
		Generation: s.generation,
		View:       s.view,
		Error:      s.err,
		UpdatedAt:  s.updatedAt,
	}
	if s.params != nil {
		p := *s.params
		snap.Params = &p
	}
	return snap
}

// Wait blocks until the session leaves the loading state or ctx is done.
func (s *ReportSession) Wait(ctx context.Context) (dto.ReportSessionSnapshot, error) {
	for {
		s.mu.Lock()
		if s.state != SessionLoading || s.done == nil {
			snap := s.snapshotLocked()
			s.mu.Unlock()
			return snap, nil
		}
		done := s.done
		s.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return s.Snapshot(), ctx.Err()
		}
	}
}

// Close cancels any fetch and resets the session to idle.
func (s *ReportSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supersedeLocked()
	s.generation++
	s.state = SessionIdle
	s.params = nil
	s.view = nil
	s.err = nil
	s.updatedAt = s.now().UTC()
}

// SessionRegistry keeps one report session per user.
type SessionRegistry struct {
	composer sessionComposer
	metrics  *MetricsService
	logger   *zap.Logger
	base     context.Context

	mu       sync.Mutex
	sessions map[string]*ReportSession
}

// NewSessionRegistry constructs an empty registry.
func NewSessionRegistry(base context.Context, composer sessionComposer, metrics *MetricsService, logger *zap.Logger) *SessionRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionRegistry{
		composer: composer,
		metrics:  metrics,
		logger:   logger,
		base:     base,
		sessions: make(map[string]*ReportSession),
	}
}

// Activate starts a fetch in the user's session, creating it on first use.
// Invalid params leave the registry untouched.
func (r *SessionRegistry) Activate(userID string, params dto.ReportParams) (*ReportSession, uint64, error) {
	if _, err := r.composer.Validate(params); err != nil {
		return nil, 0, err
	}

	r.mu.Lock()
	sess, ok := r.sessions[userID]
	if !ok {
		sess = NewReportSession(r.base, r.composer, r.metrics, r.logger.With(zap.String("user_id", userID)))
		r.sessions[userID] = sess
	}
	r.mu.Unlock()
	gen, err := sess.Activate(params)
	if err != nil {
		return nil, 0, err
	}
	return sess, gen, nil
}

// Get returns the user's session if one exists.
func (r *SessionRegistry) Get(userID string) (*ReportSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[userID]
	return sess, ok
}

// Remove tears down the user's session. It reports whether one existed.
func (r *SessionRegistry) Remove(userID string) bool {
	r.mu.Lock()
	sess, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()
	if ok {
		sess.Close()
	}
	return ok
}

// Close tears down every session.
func (r *SessionRegistry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*ReportSession)
	r.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}
