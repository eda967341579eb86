package domain

import "errors"

var (
	// ErrTransitionRejected is returned when an operation is illegal for the
	// session's current stage.
	ErrTransitionRejected = errors.New("operation not allowed in current stage")
	// ErrReadinessNotMet is returned when the quiz is entered before every
	// visible topic of every selected subject has been studied.
	ErrReadinessNotMet = errors.New("not all visible topics studied")
	// ErrAdvanceTooSoon is returned when a question is advanced before its
	// minimum dwell time has elapsed.
	ErrAdvanceTooSoon = errors.New("question advance locked during minimum dwell")
	// ErrAnswerRequired is returned when a question is advanced with neither
	// an answer nor an expired timer.
	ErrAnswerRequired = errors.New("question has no answer and its timer has not expired")
	// ErrFetchFailed indicates the question bank could not be retrieved; the
	// session stays in the quiz stage so the caller can retry.
	ErrFetchFailed = errors.New("question bank fetch failed")
	// ErrSubmitFailed indicates the result submission failed; the computed
	// score is retained for resubmission.
	ErrSubmitFailed = errors.New("result submission failed")
	// ErrSessionNotFound is returned when a session ID is unknown.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrQuestionSetNotFound indicates no questions exist for the requested
	// category/subject selection.
	ErrQuestionSetNotFound = errors.New("question set not found")
)
