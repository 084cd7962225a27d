// Package app implements the top-level view state machine: it owns
// application state (current view, mode, uploads, analysis result, active
// topic, quiz progress), defines the legal transitions between views, and
// coordinates the background work fanned out after plan and quiz
// generation.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kareemblessed/CrammAI/pkg/core"
	"github.com/kareemblessed/CrammAI/pkg/core/types"
	"github.com/kareemblessed/CrammAI/pkg/studio"
	"github.com/kareemblessed/CrammAI/pkg/upload"
)

// View is the current top-level view. The tutor overlay is orthogonal: it
// renders over any view and is tracked separately.
type View string

const (
	ViewHome        View = "home"
	ViewUpload      View = "upload"
	ViewLoading     View = "loading"
	ViewResults     View = "results"
	ViewStudy       View = "study"
	ViewQuiz        View = "quiz"
	ViewQuizSummary View = "quiz-summary"
)

// FirstQuizBlock is the size of the initial question block; answering it
// triggers the adaptive continuation.
const FirstQuizBlock = 4

// notesUnavailable is merged in place of notes when generation fails for a
// topic. The topic's action control stays disabled.
const notesUnavailable = "Notes are unavailable for this topic right now."

// consolationFeedback stands in when summary generation fails.
const consolationFeedback = "Good effort! Review the explanations for the questions you missed and have another go."

// Recorder archives finished plans and quiz outcomes. All calls are made
// from background tasks and failures are logged, never surfaced.
type Recorder interface {
	SavePlan(ctx context.Context, generation string, mode types.Mode, topics []types.Topic) error
	SaveNotes(ctx context.Context, generation, topicName, notes string) error
	RecordQuizResult(ctx context.Context, generation, topicName string, score, total int) error
}

// Config wires the collaborators.
type Config struct {
	Plans     studio.PlanGenerator
	Notes     studio.NotesGenerator
	Quizzes   studio.QuizGenerator
	Summaries studio.SummaryGenerator
	Mnemonics studio.MnemonicGenerator

	// Recorder is optional; nil disables archiving.
	Recorder Recorder
	Logger   *slog.Logger

	// NotesRetries bounds retries after the first notes-generation
	// attempt; NotesBackoff is the delay between attempts.
	NotesRetries int
	NotesBackoff time.Duration
}

// App is the view state machine. All exported methods are safe for
// concurrent use; background tasks merge their results through the same
// lock, keyed by the plan generation they belong to, so results from a
// superseded generation are discarded rather than applied to stale state.
type App struct {
	cfg    Config
	logger *slog.Logger
	tasks  coordinator

	mu           sync.Mutex
	epoch        uint64
	view         View
	mode         types.Mode
	slots        upload.Slots
	analysis     *types.AnalysisResult
	chat         studio.ChatSession
	generation   string
	currentTopic string
	quiz         *types.QuizSession
	tutorActive  bool
	tutorClose   func()
	lastError    string
}

// New creates an App on the home view.
func New(cfg Config) (*App, error) {
	if cfg.Plans == nil || cfg.Notes == nil || cfg.Quizzes == nil || cfg.Summaries == nil || cfg.Mnemonics == nil {
		return nil, core.NewInvalidRequestError("all studio collaborators must be set")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NotesRetries <= 0 {
		cfg.NotesRetries = 2
	}
	if cfg.NotesBackoff <= 0 {
		cfg.NotesBackoff = 800 * time.Millisecond
	}
	return &App{cfg: cfg, logger: cfg.Logger, view: ViewHome}, nil
}

// View returns the current view.
func (a *App) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.view
}

// Mode returns the selected urgency mode.
func (a *App) Mode() types.Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// LastError returns the most recent user-facing error message, cleared by
// the next successful transition.
func (a *App) LastError() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastError
}

// Topics returns a copy of the current analysis topics.
func (a *App) Topics() []types.Topic {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.analysis == nil {
		return nil
	}
	out := make([]types.Topic, len(a.analysis.Topics))
	copy(out, a.analysis.Topics)
	return out
}

// CurrentTopic returns the topic open in the study view.
func (a *App) CurrentTopic() (types.Topic, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t := a.analysis.Topic(a.currentTopic); t != nil {
		return *t, true
	}
	return types.Topic{}, false
}

// Quiz returns a copy of the active quiz session, if any.
func (a *App) Quiz() (types.QuizSession, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.quiz == nil {
		return types.QuizSession{}, false
	}
	return *a.quiz, true
}

// TutorActive reports whether the tutor overlay is mounted.
func (a *App) TutorActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tutorActive
}

// SelectMode stores the chosen mode and moves home to upload. The mode is
// immutable for the rest of the session.
func (a *App) SelectMode(mode types.Mode) error {
	if !mode.Valid() {
		return core.NewInvalidRequestError(fmt.Sprintf("unknown mode %q", mode))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.view != ViewHome {
		return core.NewInvalidRequestError("mode is selected on the home view")
	}
	a.mode = mode
	a.view = ViewUpload
	return nil
}

// AttachFile places a file into an upload slot, subject to the file policy.
func (a *App) AttachFile(slot int, f types.SourceFile) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.view != ViewUpload {
		return core.NewInvalidRequestError("files are attached on the upload view")
	}
	return a.slots.Set(slot, f)
}

// RemoveFile empties an upload slot; other slots keep their positions.
func (a *App) RemoveFile(slot int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.view != ViewUpload {
		return core.NewInvalidRequestError("files are removed on the upload view")
	}
	a.slots.Remove(slot)
	return nil
}

// Files returns the occupied upload slots in order.
func (a *App) Files() []types.SourceFile {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.slots.Files()
}

// GeneratePlan runs plan generation. The call itself is synchronous; on
// success the per-topic notes fan-out is launched in the background and the
// view moves to results without waiting for any notes. On failure the view
// returns to upload with a message, keeping the selected files.
func (a *App) GeneratePlan(ctx context.Context) error {
	a.mu.Lock()
	if a.view != ViewUpload {
		a.mu.Unlock()
		return core.NewInvalidRequestError("plan generation starts from the upload view")
	}
	if a.slots.Count() == 0 {
		a.mu.Unlock()
		return core.NewInvalidRequestError("attach at least one file first")
	}
	mode := a.mode
	files := a.slots.Files()
	epoch := a.epoch
	a.view = ViewLoading
	a.mu.Unlock()

	plan, chat, err := a.cfg.Plans.GeneratePlan(ctx, mode, files)

	a.mu.Lock()
	if a.epoch != epoch || a.view != ViewLoading {
		// A reset landed while the call was in flight; the result belongs
		// to a session that no longer exists.
		a.mu.Unlock()
		return core.NewInvalidRequestError("plan discarded: the session was reset")
	}
	if err != nil {
		a.view = ViewUpload
		a.lastError = "Plan generation failed. Check your files and try again."
		a.mu.Unlock()
		return err
	}
	a.analysis = plan
	a.chat = chat
	a.generation = ulid.Make().String()
	a.currentTopic = ""
	a.quiz = nil
	a.lastError = ""
	a.view = ViewResults
	generation := a.generation
	topics := make([]types.Topic, len(plan.Topics))
	copy(topics, plan.Topics)
	a.mu.Unlock()

	a.fanOutNotes(generation, topics)
	if a.cfg.Recorder != nil {
		a.tasks.Go(func() {
			if err := a.cfg.Recorder.SavePlan(context.Background(), generation, mode, topics); err != nil {
				a.logger.Warn("archive plan", "err", err)
			}
		})
	}
	return nil
}

// AskChat sends a message to the chat session scoped to the current plan's
// documents.
func (a *App) AskChat(ctx context.Context, message string) (string, error) {
	a.mu.Lock()
	chat := a.chat
	a.mu.Unlock()
	if chat == nil {
		return "", core.NewInvalidRequestError("no chat session; generate a plan first")
	}
	return chat.Send(ctx, message)
}

// OpenTopic moves results to study for a topic whose notes are ready. The
// guard mirrors the disabled control: pending or failed notes block entry.
func (a *App) OpenTopic(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.view != ViewResults {
		return core.NewInvalidRequestError("topics are opened from the results view")
	}
	topic := a.analysis.Topic(name)
	if topic == nil {
		return core.NewInvalidRequestError(fmt.Sprintf("unknown topic %q", name))
	}
	if topic.NotesState != types.NotesReady {
		return core.NewInvalidRequestError(fmt.Sprintf("notes for %q are not ready", name))
	}
	a.currentTopic = name
	a.view = ViewStudy
	return nil
}

// GenerateMnemonic generates (or regenerates) the mnemonic for the topic
// open in the study view. The call is synchronous; failure is local and
// leaves any previous mnemonic in place.
func (a *App) GenerateMnemonic(ctx context.Context) (*types.Mnemonic, error) {
	a.mu.Lock()
	if a.view != ViewStudy {
		a.mu.Unlock()
		return nil, core.NewInvalidRequestError("mnemonics are generated on the study view")
	}
	topic := a.analysis.Topic(a.currentTopic)
	if topic == nil {
		a.mu.Unlock()
		return nil, core.NewInvalidRequestError("no topic is open")
	}
	snapshot := *topic
	generation := a.generation
	a.mu.Unlock()

	text := snapshot.Name
	if len(snapshot.KeyPoints) > 0 {
		text = fmt.Sprintf("%s: %s", snapshot.Name, snapshot.KeyPoints[0])
	}
	m, err := a.cfg.Mnemonics.GenerateMnemonic(ctx, text, snapshot.Mnemonic)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.generation == generation && a.analysis != nil {
		if current := a.analysis.Topic(snapshot.Name); current != nil {
			updated := *current
			updated.Mnemonic = m
			a.analysis.ReplaceTopic(updated)
		}
	}
	return m, nil
}

// StartQuiz generates the first question block for a topic. Zero usable
// questions is a failure: the view returns to results with a message
// instead of entering an empty quiz.
func (a *App) StartQuiz(ctx context.Context, topicName string) error {
	a.mu.Lock()
	if a.view != ViewResults {
		a.mu.Unlock()
		return core.NewInvalidRequestError("quizzes start from the results view")
	}
	topic := a.analysis.Topic(topicName)
	if topic == nil {
		a.mu.Unlock()
		return core.NewInvalidRequestError(fmt.Sprintf("unknown topic %q", topicName))
	}
	snapshot := *topic
	epoch := a.epoch
	a.view = ViewLoading
	a.mu.Unlock()

	questions, err := a.cfg.Quizzes.GenerateQuiz(ctx, snapshot, studio.QuizOptions{
		Count:      FirstQuizBlock,
		Difficulty: types.TierMedium,
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.epoch != epoch || a.view != ViewLoading {
		return core.NewInvalidRequestError("quiz discarded: the session was reset")
	}
	if err == nil && len(questions) == 0 {
		err = core.NewGenerationError("quiz generation returned no questions")
	}
	if err != nil {
		a.view = ViewResults
		a.lastError = "Quiz generation failed. Try again in a moment."
		return err
	}
	a.quiz = types.NewQuizSession(snapshot.Name, questions)
	a.lastError = ""
	a.view = ViewQuiz
	return nil
}

// AnswerResult reports the outcome of one answered question.
type AnswerResult struct {
	Correct     bool
	Answer      string
	Explanation string
}

// Answer records the answer for the current question and advances.
// Finishing the first block launches the adaptive continuation (the view
// shows loading until it settles); finishing the full list finalizes the
// quiz and moves to the summary.
func (a *App) Answer(choice int) (AnswerResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.view != ViewQuiz || a.quiz == nil {
		return AnswerResult{}, core.NewInvalidRequestError("no quiz is running")
	}
	q := a.quiz
	if q.Index >= len(q.Questions) {
		return AnswerResult{}, core.NewInvalidRequestError("quiz has no open question")
	}
	if choice < 0 || choice >= types.QuizOptionCount {
		return AnswerResult{}, core.NewInvalidRequestError("answer out of range")
	}

	question := q.Questions[q.Index]
	q.Answers[q.Index] = choice
	q.Index++
	result := AnswerResult{
		Correct:     choice == question.Answer,
		Answer:      question.Options[question.Answer],
		Explanation: question.Explanation,
	}

	if q.Index < len(q.Questions) {
		return result, nil
	}
	if !q.Extended {
		// First block done: adapt difficulty in the background.
		a.view = ViewLoading
		a.launchQuizContinuationLocked()
		return result, nil
	}
	a.finalizeQuizLocked()
	return result, nil
}

// BackToResults leaves a study/quiz/summary page, clearing per-session
// scratch state (open topic, quiz progress, tutor overlay) while keeping
// the analysis result.
func (a *App) BackToResults() error {
	a.mu.Lock()
	if a.analysis == nil {
		a.mu.Unlock()
		return core.NewInvalidRequestError("no analysis to return to")
	}
	closeTutor := a.tutorClose
	a.tutorActive = false
	a.tutorClose = nil
	a.currentTopic = ""
	a.quiz = nil
	a.lastError = ""
	a.view = ViewResults
	a.mu.Unlock()

	if closeTutor != nil {
		closeTutor()
	}
	return nil
}

// Reset clears all state unconditionally and returns to home. Any live
// tutor session is torn down first. Background tasks from the old plan may
// still complete, but their results no longer match the current generation
// and are discarded on merge; an in-flight GeneratePlan or StartQuiz call
// is likewise discarded when it returns.
func (a *App) Reset() {
	a.mu.Lock()
	a.epoch++
	closeTutor := a.tutorClose
	a.tutorActive = false
	a.tutorClose = nil
	a.mode = ""
	a.slots.Clear()
	a.analysis = nil
	a.chat = nil
	a.generation = ""
	a.currentTopic = ""
	a.quiz = nil
	a.lastError = ""
	a.view = ViewHome
	a.mu.Unlock()

	if closeTutor != nil {
		closeTutor()
	}
}

// MountTutor marks the tutor overlay active and registers the teardown to
// run when the overlay unmounts (back navigation or reset).
func (a *App) MountTutor(teardown func()) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.analysis == nil {
		return core.NewInvalidRequestError("the tutor needs a generated plan")
	}
	if a.tutorActive {
		return core.NewInvalidRequestError("a tutor session is already active")
	}
	a.tutorActive = true
	a.tutorClose = teardown
	return nil
}

// UnmountTutor deactivates the overlay and runs the registered teardown.
// Safe to call when no tutor is active.
func (a *App) UnmountTutor() {
	a.mu.Lock()
	closeTutor := a.tutorClose
	a.tutorActive = false
	a.tutorClose = nil
	a.mu.Unlock()

	if closeTutor != nil {
		closeTutor()
	}
}

// WaitBackground blocks until all in-flight background tasks settle. Used
// on shutdown and in tests; the UI never calls it.
func (a *App) WaitBackground() {
	a.tasks.Wait()
}
