// Package studio defines the generative collaborators the core consumes:
// plan, notes, mnemonic, quiz and summary generation, plus a per-plan chat
// session scoped to the uploaded materials. Implementations live behind
// narrow interfaces so the orchestration core never sees a provider SDK.
package studio

import (
	"context"

	"github.com/kareemblessed/CrammAI/pkg/core/types"
)

// ChatSession answers questions against the documents supplied at plan
// generation time. A session is created per plan generation and threaded
// through explicitly; generating a new plan yields a new session and leaves
// older ones untouched.
type ChatSession interface {
	Send(ctx context.Context, message string) (string, error)
}

// PlanGenerator produces a prioritized study plan from the uploaded
// materials, together with the chat session scoped to them.
type PlanGenerator interface {
	GeneratePlan(ctx context.Context, mode types.Mode, files []types.SourceFile) (*types.AnalysisResult, ChatSession, error)
}

// NotesGenerator produces study notes for one topic. Whitespace-only output
// is a failure.
type NotesGenerator interface {
	GenerateNotes(ctx context.Context, topic types.Topic) (string, error)
}

// MnemonicGenerator produces a structured mnemonic for the given text.
// previous, when non-nil, is the mnemonic being regenerated.
type MnemonicGenerator interface {
	GenerateMnemonic(ctx context.Context, text string, previous *types.Mnemonic) (*types.Mnemonic, error)
}

// QuizOptions tunes one quiz generation request.
type QuizOptions struct {
	Difficulty types.Tier
	Count      int
	// Exclude lists question prompts already seen, so a continuation
	// block does not repeat them.
	Exclude []string
}

// QuizGenerator produces multiple-choice questions for a topic. A
// zero-length result is an application-level failure, not an empty quiz.
type QuizGenerator interface {
	GenerateQuiz(ctx context.Context, topic types.Topic, opts QuizOptions) ([]types.QuizQuestion, error)
}

// SummaryGenerator produces post-quiz feedback.
type SummaryGenerator interface {
	GenerateSummary(ctx context.Context, topicName string, score, total int, missed []types.QuizQuestion) (string, error)
}
