package domain

import (
	"sort"
	"strings"
	"time"
)

// Stage is the current position of a session in the quiz flow.
type Stage string

const (
	StageMode     Stage = "mode"
	StageCategory Stage = "category"
	StageSubjects Stage = "subjects"
	StageStudy    Stage = "study"
	StageQuiz     Stage = "quiz"
	StageStart    Stage = "start"
	StageFinished Stage = "finished"
)

// Mode selects the solo or multiplayer path through the flow.
type Mode string

const (
	ModeSolo    Mode = "solo"
	ModeFriends Mode = "friends"
)

// InviteStatus tracks a multiplayer invite through the lobby.
type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteRejected InviteStatus = "rejected"
)

// CategoryRef identifies a subject category.
type CategoryRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Topic is a study topic inside a subject. A topic can only be marked
// studied while it is visible.
type Topic struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	HasStudied bool   `json:"hasStudied"`
	Visible    bool   `json:"visible"`
}

// Subject is a selectable subject carrying its study topics.
type Subject struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Topics []Topic `json:"topics"`
}

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question with exactly one correct option.
// TimerSeconds is the per-question countdown; Points is the value of a
// first-time correct answer. AlreadyInQBank marks questions the user has
// attempted before, which reduces the awarded points.
type Question struct {
	ID             string   `json:"id"`
	TopicID        string   `json:"topicId,omitempty"`
	Prompt         string   `json:"prompt"`
	Options        []Option `json:"options"`
	TimerSeconds   int      `json:"timer"`
	Points         float64  `json:"point"`
	AlreadyInQBank bool     `json:"-"`
}

// CorrectOptionID returns the ID of the correct option, or "" if none is flagged.
func (q Question) CorrectOptionID() string {
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID
		}
	}
	return ""
}

// SubjectQuestions groups the questions generated for one selected subject.
type SubjectQuestions struct {
	SubjectID string     `json:"subjectId"`
	Questions []Question `json:"questions"`
}

// QuestionBank is the ordered question set for one session, grouped per
// subject in selection order.
type QuestionBank struct {
	Groups []SubjectQuestions `json:"groups"`
}

// TotalQuestions counts every question across all groups.
func (b QuestionBank) TotalQuestions() int {
	n := 0
	for _, g := range b.Groups {
		n += len(g.Questions)
	}
	return n
}

// TotalPossiblePoints sums the first-time point value of every question.
func (b QuestionBank) TotalPossiblePoints() float64 {
	total := 0.0
	for _, g := range b.Groups {
		for _, q := range g.Questions {
			total += q.Points
		}
	}
	return total
}

// QuestionIDs flattens the bank into its question IDs in play order.
func (b QuestionBank) QuestionIDs() []string {
	ids := make([]string, 0, b.TotalQuestions())
	for _, g := range b.Groups {
		for _, q := range g.Questions {
			ids = append(ids, q.ID)
		}
	}
	return ids
}

// Invite is a participant snapshot in a multiplayer lobby.
type Invite struct {
	UserID  string       `json:"userId"`
	Status  InviteStatus `json:"status"`
	IsReady bool         `json:"isReady"`
}

// QuestionAttempt is the per-question runtime record. Answered stays nil
// until the user picks an option; re-picking before advancing overwrites it.
type QuestionAttempt struct {
	QuestionID  string
	Answered    *Option
	TimeExpired bool
}

// SessionScore is the running aggregate maintained during play.
type SessionScore struct {
	TotalQuestions int     `json:"totalQuestions"`
	CorrectCount   int     `json:"correctCount"`
	PointsEarned   float64 `json:"pointsEarned"`
	StreakRow      int     `json:"streakRow"`
}

// SessionSummary is the payload submitted once per completed play-through.
// SubmissionKey dedupes re-sends server-side.
type SessionSummary struct {
	SessionID     string       `json:"sessionId"`
	UserID        string       `json:"userId"`
	CategoryID    string       `json:"categoryId"`
	Mode          Mode         `json:"mode"`
	Score         SessionScore `json:"score"`
	Percentage    int          `json:"percentage"`
	SubmissionKey string       `json:"submissionKey"`
	FinishedAt    time.Time    `json:"finishedAt"`
}

// FetchParams describes one question-bank request.
type FetchParams struct {
	CategoryID string
	Subjects   []SubjectSelection
	Mode       Mode
}

// SubjectSelection names a subject and the topics to draw questions from.
type SubjectSelection struct {
	SubjectID string
	TopicIDs  []string
}

// CacheKey is a stable identity for a fetch request, used by the question
// caches.
func (p FetchParams) CacheKey() string {
	var b strings.Builder
	b.WriteString(string(p.Mode))
	b.WriteString("|")
	b.WriteString(p.CategoryID)
	for _, sel := range p.Subjects {
		b.WriteString("|")
		b.WriteString(sel.SubjectID)
		topics := make([]string, len(sel.TopicIDs))
		copy(topics, sel.TopicIDs)
		sort.Strings(topics)
		for _, t := range topics {
			b.WriteString(",")
			b.WriteString(t)
		}
	}
	return b.String()
}
