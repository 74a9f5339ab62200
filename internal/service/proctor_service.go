package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/grading"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

var (
	ErrSessionAlreadyOpen = errors.New("test already open in another session")
	ErrSessionNotFound    = errors.New("session not found")
)

// releaseLockScript deletes the lock only while it still holds our token.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// OpenRequest carries the per-connection collaborators of a new session.
type OpenRequest struct {
	TestID     uuid.UUID
	LearnerID  int
	Gateway    proctor.PresentationGateway
	Visibility proctor.VisibilitySource
	Notifier   proctor.Notifier
}

type liveSession struct {
	session   *proctor.Session
	lockKey   string
	lockToken string
}

// ProctorService owns the live sessions of this instance. A learner may hold
// at most one open session per test across all instances.
type ProctorService struct {
	cfg       *config.Config
	tests     *TestService
	rdb       *redis.Client
	grader    proctor.Grader
	publisher *grading.Publisher
	clock     clockwork.Clock
	log       zerolog.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*liveSession
}

// NewProctorService creates a new ProctorService.
func NewProctorService(
	cfg *config.Config,
	tests *TestService,
	rdb *redis.Client,
	grader proctor.Grader,
	publisher *grading.Publisher,
	log zerolog.Logger,
) *ProctorService {
	return &ProctorService{
		cfg:       cfg,
		tests:     tests,
		rdb:       rdb,
		grader:    grader,
		publisher: publisher,
		clock:     clockwork.NewRealClock(),
		log:       log.With().Str("component", "proctor_service").Logger(),
		sessions:  make(map[uuid.UUID]*liveSession),
	}
}

// Open loads the test, takes the single-tab lock and creates a session in
// the Setup phase.
func (s *ProctorService) Open(ctx context.Context, req OpenRequest) (*proctor.Session, error) {
	paper, err := s.tests.GetPaper(ctx, req.TestID)
	if err != nil {
		return nil, err
	}
	if len(paper.Questions) == 0 {
		return nil, ErrNoQuestions
	}

	sessionID := uuid.New()
	lockKey := config.CacheKey.LearnerActiveSessionKey(req.TestID.String(), req.LearnerID)
	ttl := time.Duration(paper.TimeLimitSeconds)*time.Second + s.cfg.SessionLockGrace

	acquired, err := s.rdb.SetNX(ctx, lockKey, sessionID.String(), ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}
	if !acquired {
		return nil, ErrSessionAlreadyOpen
	}

	recorder := grading.NewViolationRecorder(s.rdb, s.publisher, sessionID, req.TestID, req.LearnerID, s.log)
	session, err := proctor.NewSession(proctor.Params{
		SessionID:        sessionID,
		TestID:           req.TestID,
		LearnerID:        req.LearnerID,
		TimeLimitSeconds: paper.TimeLimitSeconds,
		Questions:        paper.Questions,
	}, proctor.Deps{
		Gateway:       req.Gateway,
		Visibility:    req.Visibility,
		Grader:        s.grader,
		Notifier:      req.Notifier,
		Recorder:      recorder,
		Clock:         s.clock,
		Logger:        s.log,
		SubmitTimeout: s.cfg.SubmitTimeout,
	})
	if err != nil {
		s.releaseLock(lockKey, sessionID.String())
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.mu.Lock()
	s.sessions[sessionID] = &liveSession{session: session, lockKey: lockKey, lockToken: sessionID.String()}
	s.mu.Unlock()

	s.publish(req.TestID, grading.MonitorEvent{
		Type:      grading.EventOpened,
		SessionID: sessionID,
		LearnerID: req.LearnerID,
	})

	s.log.Info().
		Str("session_id", sessionID.String()).
		Str("test_id", req.TestID.String()).
		Int("learner_id", req.LearnerID).
		Dur("lock_ttl", ttl).
		Msg("Session opened")
	return session, nil
}

// Close ends a session. An uncompleted session is abandoned without grading.
// The single-tab lock is released either way.
func (s *ProctorService) Close(sessionID uuid.UUID) error {
	s.mu.Lock()
	live, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	live.session.Close()
	s.releaseLock(live.lockKey, live.lockToken)

	if _, completed := live.session.Completion(); !completed {
		st := live.session.State()
		s.publish(live.session.TestID(), grading.MonitorEvent{
			Type:           grading.EventAbandoned,
			SessionID:      sessionID,
			LearnerID:      live.session.LearnerID(),
			ViolationCount: st.ViolationCount,
			Answered:       st.Progress.Answered,
		})
	}
	return nil
}

// ActiveCount returns the number of sessions open on this instance.
func (s *ProctorService) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown abandons every open session.
func (s *ProctorService) Shutdown() {
	s.mu.Lock()
	ids := make([]uuid.UUID, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.Close(id)
	}
	if len(ids) > 0 {
		s.log.Info().Int("count", len(ids)).Msg("Open sessions closed on shutdown")
	}
}

func (s *ProctorService) releaseLock(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseLockScript.Run(ctx, s.rdb, []string{key}, token).Err(); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Failed to release session lock")
	}
}

func (s *ProctorService) publish(testID uuid.UUID, ev grading.MonitorEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.publisher.Publish(ctx, testID, ev); err != nil {
		s.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("Failed to publish monitor event")
	}
}
