package app

import (
	"fmt"
	"sync"
	"time"

	"studyquiz-service/internal/domain"
)

// minQuestionDwell is the anti-rapid-fire floor: a question cannot be
// advanced until it has been on screen this long. Fixed product decision,
// deliberately not configurable.
const minQuestionDwell = 3 * time.Second

// maxSubjects caps how many subjects one session may select.
const maxSubjects = 2

// TransitionNotifier receives outbound intents from multiplayer sessions.
// The session only calls it when mode is friends.
type TransitionNotifier interface {
	CategorySelected(sessionRef string, category domain.CategoryRef)
	SubjectsConfirmed(sessionRef string, subjects []domain.Subject)
	TopicsFetched(sessionRef string, bank domain.QuestionBank, subjects []domain.Subject)
	LobbyLeft(sessionRef string)
}

// Session owns the state of one quiz attempt and enforces legal stage
// transitions. All mutations take the session lock, so events are processed
// one at a time in arrival order.
type Session struct {
	id      string
	userID  string
	scoring ScoringConfig
	now     func() time.Time

	mu         sync.Mutex
	stage      domain.Stage
	mode       domain.Mode
	category   *domain.CategoryRef
	subjects   []domain.Subject
	sessionRef string
	isHost     bool
	invites    []domain.Invite

	bank          domain.QuestionBank
	totalPossible float64
	groupIdx      int
	questionIdx   int
	currentSince  time.Time
	attempt       domain.QuestionAttempt
	score         domain.SessionScore

	attemptSeq int
	summary    *domain.SessionSummary

	// generation invalidates in-flight fetch/submit completions after Quit.
	generation uint64
	closed     bool

	timer         *time.Timer
	timersEnabled bool
	notifier      TransitionNotifier

	// timerSink receives every timer-driven transition: a nil summary means
	// the session advanced to the next question, non-nil means the expiry
	// completed the quiz. Invoked outside the session lock.
	timerSink func(summary *domain.SessionSummary, generation uint64)
}

// NewSession creates a session at the mode stage with live question timers.
func NewSession(id, userID string, scoring ScoringConfig) *Session {
	s := newSessionWithClock(id, userID, scoring, time.Now)
	s.timersEnabled = true
	return s
}

// NewSessionWithClock is test-only: deterministic time, no background timers
// (tests deliver expiry through ExpireCurrentQuestion).
func NewSessionWithClock(id, userID string, scoring ScoringConfig, now func() time.Time) *Session {
	return newSessionWithClock(id, userID, scoring, now)
}

func newSessionWithClock(id, userID string, scoring ScoringConfig, now func() time.Time) *Session {
	return &Session{
		id:      id,
		userID:  userID,
		scoring: scoring,
		now:     now,
		stage:   domain.StageMode,
	}
}

// SetNotifier wires the outbound multiplayer intent sink.
func (s *Session) SetNotifier(n TransitionNotifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// SetTimerSink wires the handler for timer-driven transitions.
func (s *Session) SetTimerSink(sink func(summary *domain.SessionSummary, generation uint64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timerSink = sink
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the owning user.
func (s *Session) UserID() string { return s.userID }

// Stage reports the current stage.
func (s *Session) Stage() domain.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Score returns the running aggregate.
func (s *Session) Score() domain.SessionScore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.score
}

// Subjects returns a copy of the current subject selection.
func (s *Session) Subjects() []domain.Subject {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Subject, len(s.subjects))
	copy(out, s.subjects)
	return out
}

// Invites returns a copy of the lobby participant snapshots.
func (s *Session) Invites() []domain.Invite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Invite, len(s.invites))
	copy(out, s.invites)
	return out
}

// Generation returns the current teardown generation; completions of work
// started under an older generation must be discarded.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// SelectMode picks solo or friends play and advances mode -> category.
func (s *Session) SelectMode(mode domain.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stage != domain.StageMode {
		return domain.ErrTransitionRejected
	}
	if mode != domain.ModeSolo && mode != domain.ModeFriends {
		return domain.ErrTransitionRejected
	}
	s.mode = mode
	s.stage = domain.StageCategory
	return nil
}

// SelectCategory sets the category and advances category -> subjects.
func (s *Session) SelectCategory(ref domain.CategoryRef) error {
	var notify func()
	// Notifier calls run outside the lock: the hub may route the resulting
	// event straight back into this session.
	defer func() {
		if notify != nil {
			notify()
		}
	}()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stage != domain.StageCategory {
		return domain.ErrTransitionRejected
	}
	s.category = &ref
	s.stage = domain.StageSubjects
	if s.mode == domain.ModeFriends && s.notifier != nil {
		notifier, sessionRef := s.notifier, s.sessionRef
		notify = func() { notifier.CategorySelected(sessionRef, ref) }
	}
	return nil
}

// ToggleSubject adds or removes a subject from the selection. Adding past
// the cap is a silent no-op; the stage does not change.
func (s *Session) ToggleSubject(subject domain.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stage != domain.StageSubjects {
		return domain.ErrTransitionRejected
	}
	for i, existing := range s.subjects {
		if existing.ID == subject.ID {
			s.subjects = append(s.subjects[:i], s.subjects[i+1:]...)
			return nil
		}
	}
	if len(s.subjects) >= maxSubjects {
		return nil
	}
	s.subjects = append(s.subjects, subject)
	return nil
}

// ConfirmSubjects advances subjects -> study once at least one subject is
// selected.
func (s *Session) ConfirmSubjects() error {
	var notify func()
	defer func() {
		if notify != nil {
			notify()
		}
	}()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stage != domain.StageSubjects || len(s.subjects) == 0 {
		return domain.ErrTransitionRejected
	}
	s.stage = domain.StageStudy
	if s.mode == domain.ModeFriends && s.notifier != nil {
		subjects := make([]domain.Subject, len(s.subjects))
		copy(subjects, s.subjects)
		notifier, sessionRef := s.notifier, s.sessionRef
		notify = func() { notifier.SubjectsConfirmed(sessionRef, subjects) }
	}
	return nil
}

// MarkTopicStudied toggles the studied flag on the addressed topic. Hidden
// topics cannot be studied.
func (s *Session) MarkTopicStudied(subjectID, topicID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stage != domain.StageStudy {
		return domain.ErrTransitionRejected
	}
	for i := range s.subjects {
		if s.subjects[i].ID != subjectID {
			continue
		}
		for j := range s.subjects[i].Topics {
			topic := &s.subjects[i].Topics[j]
			if topic.ID != topicID || !topic.Visible {
				continue
			}
			topic.HasStudied = !topic.HasStudied
			return nil
		}
	}
	return nil
}

// AdvanceToQuiz checks the readiness gate (every visible topic of every
// selected subject studied) and advances study -> quiz. It returns the fetch
// parameters and the generation under which the fetch runs; the caller feeds
// the resolved bank back through BeginPlay.
func (s *Session) AdvanceToQuiz() (domain.FetchParams, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stage != domain.StageStudy {
		return domain.FetchParams{}, 0, domain.ErrTransitionRejected
	}
	for _, subject := range s.subjects {
		for _, topic := range subject.Topics {
			if topic.Visible && !topic.HasStudied {
				return domain.FetchParams{}, 0, domain.ErrReadinessNotMet
			}
		}
	}
	s.stage = domain.StageQuiz
	return s.fetchParamsLocked(), s.generation, nil
}

// FetchParams rebuilds the question-fetch parameters for a session waiting
// in the quiz stage, so a failed fetch can be retried.
func (s *Session) FetchParams() (domain.FetchParams, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stage != domain.StageQuiz {
		return domain.FetchParams{}, 0, domain.ErrTransitionRejected
	}
	return s.fetchParamsLocked(), s.generation, nil
}

func (s *Session) fetchParamsLocked() domain.FetchParams {
	params := domain.FetchParams{Mode: s.mode}
	if s.category != nil {
		params.CategoryID = s.category.ID
	}
	for _, subject := range s.subjects {
		sel := domain.SubjectSelection{SubjectID: subject.ID}
		for _, topic := range subject.Topics {
			if topic.Visible {
				sel.TopicIDs = append(sel.TopicIDs, topic.ID)
			}
		}
		params.Subjects = append(params.Subjects, sel)
	}
	return params
}

// QuestionIDs lists the IDs of the installed question bank in play order.
func (s *Session) QuestionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bank.QuestionIDs()
}

// BeginPlay installs the fetched question bank and advances quiz -> start.
// A stale generation (session quit while the fetch was in flight) is
// silently discarded.
func (s *Session) BeginPlay(bank domain.QuestionBank, generation uint64) error {
	var notify func()
	defer func() {
		if notify != nil {
			notify()
		}
	}()
	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation || s.closed {
		return nil
	}
	if s.stage != domain.StageQuiz {
		return domain.ErrTransitionRejected
	}
	if err := s.installBankLocked(bank); err != nil {
		return err
	}
	if s.mode == domain.ModeFriends && s.isHost && s.notifier != nil {
		subjects := make([]domain.Subject, len(s.subjects))
		copy(subjects, s.subjects)
		notifier, sessionRef := s.notifier, s.sessionRef
		notify = func() { notifier.TopicsFetched(sessionRef, bank, subjects) }
	}
	return nil
}

// BeginHostPlay installs a host-distributed question bank on a peer session.
// The host message is authoritative: a peer still picking subjects or studying
// is pulled straight into play, skipping its own fetch.
func (s *Session) BeginHostPlay(bank domain.QuestionBank) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	switch s.stage {
	case domain.StageCategory, domain.StageSubjects, domain.StageStudy, domain.StageQuiz:
	default:
		return domain.ErrTransitionRejected
	}
	return s.installBankLocked(bank)
}

func (s *Session) installBankLocked(bank domain.QuestionBank) error {
	if bank.TotalQuestions() == 0 {
		return domain.ErrQuestionSetNotFound
	}
	s.bank = bank
	// Derived totals are fixed once here, not recomputed per read.
	s.totalPossible = bank.TotalPossiblePoints()
	s.score = domain.SessionScore{TotalQuestions: bank.TotalQuestions()}
	s.groupIdx, s.questionIdx = 0, 0
	s.skipEmptyGroupsLocked()
	s.stage = domain.StageStart
	s.beginQuestionLocked()
	return nil
}

// SubmitAnswer records the user's pick for the current question. Repeated
// submissions before advancing overwrite each other; last write wins.
func (s *Session) SubmitAnswer(option domain.Option) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stage != domain.StageStart {
		return domain.ErrTransitionRejected
	}
	picked := option
	s.attempt.Answered = &picked
	return nil
}

// AdvanceQuestion finalizes the current attempt, scores it, and moves to the
// next question. It requires an answer (or an expired timer) and the dwell
// floor to have passed. When the bank is exhausted the session transitions
// to finished and the returned summary must be submitted exactly once.
func (s *Session) AdvanceQuestion() (*domain.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stage != domain.StageStart {
		return nil, domain.ErrTransitionRejected
	}
	if s.now().Sub(s.currentSince) < minQuestionDwell {
		return nil, domain.ErrAdvanceTooSoon
	}
	if s.attempt.Answered == nil && !s.attempt.TimeExpired {
		return nil, domain.ErrAnswerRequired
	}
	return s.finalizeCurrentLocked(), nil
}

// ExpireCurrentQuestion handles an externally delivered countdown expiry:
// the attempt is finalized with no answer, bypassing the dwell floor. The
// question ID guards against duplicated or late deliveries; an expiry for a
// question that is no longer current is ignored.
func (s *Session) ExpireCurrentQuestion(questionID string) *domain.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stage != domain.StageStart || s.attempt.QuestionID != questionID {
		return nil
	}
	s.attempt.TimeExpired = true
	s.attempt.Answered = nil
	return s.finalizeCurrentLocked()
}

func (s *Session) finalizeCurrentLocked() *domain.SessionSummary {
	question := s.currentQuestionLocked()
	outcome := s.scoring.ScoreAnswer(*question, s.attempt, s.mode)
	s.score = Aggregate(s.score, outcome)
	s.stopTimerLocked()

	s.questionIdx++
	if s.questionIdx >= len(s.bank.Groups[s.groupIdx].Questions) {
		s.groupIdx++
		s.questionIdx = 0
		s.skipEmptyGroupsLocked()
	}
	if s.groupIdx < len(s.bank.Groups) {
		s.beginQuestionLocked()
		return nil
	}
	return s.finishLocked()
}

func (s *Session) finishLocked() *domain.SessionSummary {
	s.stage = domain.StageFinished
	s.attemptSeq++
	categoryID := ""
	if s.category != nil {
		categoryID = s.category.ID
	}
	summary := &domain.SessionSummary{
		SessionID:     s.id,
		UserID:        s.userID,
		CategoryID:    categoryID,
		Mode:          s.mode,
		Score:         s.score,
		Percentage:    Percentage(s.score, s.totalPossible),
		SubmissionKey: fmt.Sprintf("%s#%d", s.id, s.attemptSeq),
		FinishedAt:    s.now(),
	}
	s.summary = summary
	return summary
}

// Retry re-plays the same question bank: finished -> start with the score
// reset. The previous summary is returned so the caller can re-send it under
// its original submission key.
func (s *Session) Retry() (*domain.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stage != domain.StageFinished {
		return nil, domain.ErrTransitionRejected
	}
	previous := s.summary
	s.score = domain.SessionScore{TotalQuestions: s.bank.TotalQuestions()}
	s.groupIdx, s.questionIdx = 0, 0
	s.skipEmptyGroupsLocked()
	s.stage = domain.StageStart
	s.beginQuestionLocked()
	return previous, nil
}

// Quit tears the session down from any non-finished stage. The generation
// bump makes late fetch/submit completions no-ops, and a pending multiplayer
// lobby is notified so peers drop the stale participant.
func (s *Session) Quit() error {
	var notify func()
	defer func() {
		if notify != nil {
			notify()
		}
	}()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage == domain.StageFinished || s.closed {
		return domain.ErrTransitionRejected
	}
	s.generation++
	s.closed = true
	s.stopTimerLocked()
	if s.mode == domain.ModeFriends && s.sessionRef != "" && s.notifier != nil {
		notifier, sessionRef := s.notifier, s.sessionRef
		notify = func() { notifier.LobbyLeft(sessionRef) }
	}
	return nil
}

// Closed reports whether the session was torn down via Quit.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SetMultiplayerSession installs the external lobby identity. Host sessions
// are authoritative for question generation.
func (s *Session) SetMultiplayerSession(sessionRef string, host bool, invites []domain.Invite) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionRef = sessionRef
	s.isHost = host
	s.invites = invites
}

// ReplaceInvites applies a server-authoritative lobby snapshot wholesale.
// Replace, never merge: the last snapshot wins even if events arrived out of
// order.
func (s *Session) ReplaceInvites(invites []domain.Invite) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invites = invites
}

// UpdateInviteStatus updates one participant's invite status.
func (s *Session) UpdateInviteStatus(userID string, status domain.InviteStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.invites {
		if s.invites[i].UserID == userID {
			s.invites[i].Status = status
			return
		}
	}
}

// SessionSnapshot is a read-only view of the session for presentation.
type SessionSnapshot struct {
	SessionID      string              `json:"sessionId"`
	Stage          domain.Stage        `json:"stage"`
	Mode           domain.Mode         `json:"mode,omitempty"`
	Category       *domain.CategoryRef `json:"category,omitempty"`
	Subjects       []domain.Subject    `json:"subjects,omitempty"`
	Invites        []domain.Invite     `json:"invites,omitempty"`
	Score          domain.SessionScore `json:"score"`
	Question       *domain.Question    `json:"question,omitempty"`
	QuestionNumber int                 `json:"questionNumber,omitempty"`
}

// Snapshot captures the session state in one consistent read.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := SessionSnapshot{
		SessionID: s.id,
		Stage:     s.stage,
		Mode:      s.mode,
		Category:  s.category,
		Score:     s.score,
	}
	snap.Subjects = make([]domain.Subject, len(s.subjects))
	copy(snap.Subjects, s.subjects)
	snap.Invites = make([]domain.Invite, len(s.invites))
	copy(snap.Invites, s.invites)
	if s.stage == domain.StageStart {
		if q := s.currentQuestionLocked(); q != nil {
			question := *q
			snap.Question = &question
			number := 0
			for gi := 0; gi < s.groupIdx; gi++ {
				number += len(s.bank.Groups[gi].Questions)
			}
			snap.QuestionNumber = number + s.questionIdx + 1
		}
	}
	return snap
}

// CurrentQuestion returns the question under play, or nil outside the start
// stage.
func (s *Session) CurrentQuestion() *domain.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != domain.StageStart {
		return nil
	}
	q := s.currentQuestionLocked()
	if q == nil {
		return nil
	}
	out := *q
	return &out
}

func (s *Session) currentQuestionLocked() *domain.Question {
	if s.groupIdx >= len(s.bank.Groups) {
		return nil
	}
	group := &s.bank.Groups[s.groupIdx]
	if s.questionIdx >= len(group.Questions) {
		return nil
	}
	return &group.Questions[s.questionIdx]
}

func (s *Session) skipEmptyGroupsLocked() {
	for s.groupIdx < len(s.bank.Groups) && len(s.bank.Groups[s.groupIdx].Questions) == 0 {
		s.groupIdx++
	}
}

// beginQuestionLocked makes the question at the current pointer live: fresh
// attempt, dwell clock restarted, countdown armed. Arming cancels the
// previous timer, so at most one is ever active.
func (s *Session) beginQuestionLocked() {
	question := s.currentQuestionLocked()
	s.attempt = domain.QuestionAttempt{QuestionID: question.ID}
	s.currentSince = s.now()
	s.armTimerLocked(question)
}

func (s *Session) armTimerLocked(question *domain.Question) {
	s.stopTimerLocked()
	if !s.timersEnabled || question.TimerSeconds <= 0 {
		return
	}
	generation := s.generation
	questionID := question.ID
	s.timer = time.AfterFunc(time.Duration(question.TimerSeconds)*time.Second, func() {
		s.expireIfCurrent(generation, questionID)
	})
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// expireIfCurrent guards the async timer callback against races with
// advance/quit: it only fires for the question it was armed for.
func (s *Session) expireIfCurrent(generation uint64, questionID string) {
	s.mu.Lock()
	if s.generation != generation || s.stage != domain.StageStart || s.attempt.QuestionID != questionID {
		s.mu.Unlock()
		return
	}
	s.attempt.TimeExpired = true
	s.attempt.Answered = nil
	summary := s.finalizeCurrentLocked()
	sink := s.timerSink
	gen := s.generation
	s.mu.Unlock()
	if sink != nil {
		sink(summary, gen)
	}
}
