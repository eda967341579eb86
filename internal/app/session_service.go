package app

import (
	"context"
	"fmt"
	"log"
	"sync"

	"studyquiz-service/internal/domain"
)

// SessionRepository abstracts how live sessions are stored (in-memory,
// Redis-marked, etc).
type SessionRepository interface {
	Put(session *Session)
	Get(sessionID string) (*Session, bool)
	Delete(sessionID string)
}

// QuestionRepository fetches question banks for a category/subject selection
// (from cache/backing store).
type QuestionRepository interface {
	FetchQuestions(ctx context.Context, params domain.FetchParams) (domain.QuestionBank, error)
}

// ResultSubmitter persists a completed session summary. Implementations must
// dedupe on SubmissionKey so re-sends cannot double-count.
type ResultSubmitter interface {
	SubmitResult(ctx context.Context, summary domain.SessionSummary) error
}

// QBankStore tracks which questions a user has attempted before. Membership
// reduces the point value of repeats.
type QBankStore interface {
	Contains(ctx context.Context, userID string, questionIDs []string) (map[string]bool, error)
	Add(ctx context.Context, userID string, questionIDs []string) error
}

// TimerObserver is notified after a server-side countdown advances a session.
// summary is non-nil when the expiry completed the quiz.
type TimerObserver func(summary *domain.SessionSummary)

// SessionService contains the quiz flow use cases that touch infrastructure:
// session lifecycle, question fetching, and result submission. Pure stage
// transitions live on Session itself.
type SessionService struct {
	sessions  SessionRepository
	questions QuestionRepository
	results   ResultSubmitter
	qbank     QBankStore
	scoring   ScoringConfig

	obsMu     sync.RWMutex
	observers map[string]TimerObserver
}

func NewSessionService(store SessionRepository, questions QuestionRepository, results ResultSubmitter, qbank QBankStore, scoring ScoringConfig) *SessionService {
	return &SessionService{
		sessions:  store,
		questions: questions,
		results:   results,
		qbank:     qbank,
		scoring:   scoring,
		observers: make(map[string]TimerObserver),
	}
}

// Create starts a fresh session for a user and registers it. Timer-driven
// transitions submit and notify through the service.
func (s *SessionService) Create(sessionID, userID string) *Session {
	session := NewSession(sessionID, userID, s.scoring)
	s.registerTimerSink(session)
	s.sessions.Put(session)
	return session
}

// Register adds an externally constructed session (e.g. one built with a
// test clock) to the service.
func (s *SessionService) Register(session *Session) {
	s.registerTimerSink(session)
	s.sessions.Put(session)
}

func (s *SessionService) registerTimerSink(session *Session) {
	session.SetTimerSink(func(summary *domain.SessionSummary, generation uint64) {
		if session.Generation() != generation {
			return
		}
		if summary != nil {
			if err := s.submit(context.Background(), session, *summary); err != nil {
				log.Printf("session %s: timer-driven submit failed: %v", session.ID(), err)
			}
		}
		s.notifyTimer(session.ID(), summary)
	})
}

// Observe registers a callback for a session's timer-driven transitions, so
// a transport can push fresh state when the server's countdown advances play
// without any client message.
func (s *SessionService) Observe(sessionID string, fn TimerObserver) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers[sessionID] = fn
}

// Unobserve drops a session's timer observer.
func (s *SessionService) Unobserve(sessionID string) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	delete(s.observers, sessionID)
}

func (s *SessionService) notifyTimer(sessionID string, summary *domain.SessionSummary) {
	s.obsMu.RLock()
	fn := s.observers[sessionID]
	s.obsMu.RUnlock()
	if fn != nil {
		fn(summary)
	}
}

// Get looks up a live session.
func (s *SessionService) Get(sessionID string) (*Session, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// AdvanceToQuiz runs the readiness gate, fetches the question bank, marks
// qBank repeats, and begins play. On fetch failure the session stays in the
// quiz stage and the fetch can be re-run through RetryFetch.
func (s *SessionService) AdvanceToQuiz(ctx context.Context, sessionID string) error {
	session, err := s.Get(sessionID)
	if err != nil {
		return err
	}
	params, generation, err := session.AdvanceToQuiz()
	if err != nil {
		return err
	}
	return s.fetchAndBegin(ctx, session, params, generation)
}

// RetryFetch re-runs the question fetch for a session stuck in the quiz
// stage after a fetch failure.
func (s *SessionService) RetryFetch(ctx context.Context, sessionID string) error {
	session, err := s.Get(sessionID)
	if err != nil {
		return err
	}
	if session.Stage() != domain.StageQuiz {
		return domain.ErrTransitionRejected
	}
	params, generation, err := session.FetchParams()
	if err != nil {
		return err
	}
	return s.fetchAndBegin(ctx, session, params, generation)
}

func (s *SessionService) fetchAndBegin(ctx context.Context, session *Session, params domain.FetchParams, generation uint64) error {
	bank, err := s.questions.FetchQuestions(ctx, params)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFetchFailed, err)
	}
	s.markRepeats(ctx, session.UserID(), &bank)
	return session.BeginPlay(bank, generation)
}

// markRepeats flags bank questions already in the user's qBank. A store
// failure degrades to first-time scoring rather than blocking play.
func (s *SessionService) markRepeats(ctx context.Context, userID string, bank *domain.QuestionBank) {
	ids := bank.QuestionIDs()
	if len(ids) == 0 {
		return
	}
	seen, err := s.qbank.Contains(ctx, userID, ids)
	if err != nil {
		log.Printf("qbank lookup failed for user %s: %v", userID, err)
		return
	}
	for gi := range bank.Groups {
		for qi := range bank.Groups[gi].Questions {
			q := &bank.Groups[gi].Questions[qi]
			q.AlreadyInQBank = seen[q.ID]
		}
	}
}

// AdvanceQuestion finalizes the current question; when it was the last one,
// the summary is submitted exactly once and returned.
func (s *SessionService) AdvanceQuestion(ctx context.Context, sessionID string) (*domain.SessionSummary, error) {
	session, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}
	summary, err := session.AdvanceQuestion()
	if err != nil || summary == nil {
		return nil, err
	}
	return summary, s.submit(ctx, session, *summary)
}

// ExpireQuestion delivers an externally reported countdown expiry. The
// question ID must name the current question; stale or duplicated deliveries
// are ignored.
func (s *SessionService) ExpireQuestion(ctx context.Context, sessionID, questionID string) (*domain.SessionSummary, error) {
	session, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}
	summary := session.ExpireCurrentQuestion(questionID)
	if summary == nil {
		return nil, nil
	}
	return summary, s.submit(ctx, session, *summary)
}

// Retry re-sends the finished session's summary under its original
// submission key and restarts play over the same question bank.
func (s *SessionService) Retry(ctx context.Context, sessionID string) error {
	session, err := s.Get(sessionID)
	if err != nil {
		return err
	}
	previous, err := session.Retry()
	if err != nil {
		return err
	}
	if previous == nil {
		return nil
	}
	return s.submit(ctx, session, *previous)
}

// Quit tears a session down and removes it from the store. Safe with fetches
// or submits still in flight; their completions are discarded.
func (s *SessionService) Quit(sessionID string) error {
	session, err := s.Get(sessionID)
	if err != nil {
		return err
	}
	if err := session.Quit(); err != nil {
		return err
	}
	s.Unobserve(sessionID)
	s.sessions.Delete(sessionID)
	return nil
}

// Close removes a finished session from the store once the client dismisses
// the flow.
func (s *SessionService) Close(sessionID string) {
	s.Unobserve(sessionID)
	s.sessions.Delete(sessionID)
}

func (s *SessionService) submit(ctx context.Context, session *Session, summary domain.SessionSummary) error {
	if err := s.results.SubmitResult(ctx, summary); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSubmitFailed, err)
	}
	if ids := session.QuestionIDs(); len(ids) > 0 {
		if err := s.qbank.Add(ctx, session.UserID(), ids); err != nil {
			log.Printf("qbank update failed for user %s: %v", session.UserID(), err)
		}
	}
	return nil
}
