// Package types defines the data model shared across the CrammAI core.
package types

import "strings"

// Mode is the urgency mode chosen on the home view. It is immutable for
// the lifetime of a session and is carried as context only; prompt and
// theme selection happen outside the core.
type Mode string

const (
	ModeCalm Mode = "calm"
	ModeWarn Mode = "warn"
	ModeZoom Mode = "zoom"
)

// Valid reports whether m is one of the three known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeCalm, ModeWarn, ModeZoom:
		return true
	}
	return false
}

// MaxUploadSlots is the fixed number of upload positions.
const MaxUploadSlots = 3

// SourceFile is one uploaded course material.
type SourceFile struct {
	Name     string
	Size     int64
	MIMEType string
	Data     []byte
}

// NotesState tracks per-topic notes generation progress.
type NotesState string

const (
	NotesPending NotesState = "pending"
	NotesReady   NotesState = "ready"
	NotesFailed  NotesState = "failed"
)

// MnemonicMapping connects one letter of a mnemonic word to its meaning.
type MnemonicMapping struct {
	Letter  string
	Meaning string
}

// Mnemonic is a generated memory aid: a word plus one mapping per letter.
type Mnemonic struct {
	Word     string
	Mappings []MnemonicMapping
}

// Topic is one prioritized study subject from a generated plan.
// Notes and Mnemonic are filled in later by background work.
type Topic struct {
	Name       string
	Rationale  string
	KeyPoints  []string
	Notes      string
	NotesState NotesState
	Mnemonic   *Mnemonic
}

// AnalysisResult is the ordered topic list produced by plan generation.
// The only mutation path after creation is replacement of a topic matched
// by name; topics are never deleted except on full reset.
type AnalysisResult struct {
	Topics []Topic
}

// Topic returns the topic with the given name, or nil.
func (a *AnalysisResult) Topic(name string) *Topic {
	if a == nil {
		return nil
	}
	for i := range a.Topics {
		if a.Topics[i].Name == name {
			return &a.Topics[i]
		}
	}
	return nil
}

// ReplaceTopic swaps in the given topic by name match, preserving order.
// Returns false if no topic with that name exists.
func (a *AnalysisResult) ReplaceTopic(t Topic) bool {
	if a == nil {
		return false
	}
	for i := range a.Topics {
		if a.Topics[i].Name == t.Name {
			a.Topics[i] = t
			return true
		}
	}
	return false
}

// Tier is a discrete quiz difficulty level.
type Tier string

const (
	TierEasy   Tier = "easy"
	TierMedium Tier = "medium"
	TierHard   Tier = "hard"
)

// QuizOptionCount is the fixed number of options per question.
const QuizOptionCount = 4

// QuizQuestion is immutable once generated.
type QuizQuestion struct {
	Prompt      string
	Options     [QuizOptionCount]string
	Answer      int // index into Options
	Explanation string
	Difficulty  Tier
}

// NoAnswer marks an unanswered question slot.
const NoAnswer = -1

// QuizSession holds one quiz run for a topic. Questions may grow once when
// the adaptive continuation appends a second block.
type QuizSession struct {
	TopicName string
	Questions []QuizQuestion
	Answers   []int // parallel to Questions; NoAnswer until answered
	Index     int
	Score     int
	Extended  bool
	Finalized bool
	Feedback  string
}

// NewQuizSession creates a session with every answer slot open.
func NewQuizSession(topicName string, questions []QuizQuestion) *QuizSession {
	answers := make([]int, len(questions))
	for i := range answers {
		answers[i] = NoAnswer
	}
	return &QuizSession{
		TopicName: topicName,
		Questions: questions,
		Answers:   answers,
	}
}

// Append adds a continuation block of questions with open answer slots.
func (q *QuizSession) Append(questions []QuizQuestion) {
	q.Questions = append(q.Questions, questions...)
	for range questions {
		q.Answers = append(q.Answers, NoAnswer)
	}
	q.Extended = true
}

// Missed returns the questions whose recorded answer is wrong or absent.
func (q *QuizSession) Missed() []QuizQuestion {
	var missed []QuizQuestion
	for i, question := range q.Questions {
		if i >= len(q.Answers) || q.Answers[i] != question.Answer {
			missed = append(missed, question)
		}
	}
	return missed
}

// Role identifies the speaker of a transcript message.
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleStatus Role = "status"
)

// TranscriptMessage is one entry in the live-session transcript. The
// sequence is append-mostly: only the most recent message of a role may be
// replaced in place, and only while its turn is still open.
type TranscriptMessage struct {
	ID   string
	Role Role
	Text string
}

// Empty reports whether the message carries no visible text.
func (m TranscriptMessage) Empty() bool {
	return strings.TrimSpace(m.Text) == ""
}
