package app

import (
	"context"
	"strings"
	"sync"

	"github.com/sethvargo/go-retry"

	"github.com/kareemblessed/CrammAI/pkg/core"
	"github.com/kareemblessed/CrammAI/pkg/core/types"
	"github.com/kareemblessed/CrammAI/pkg/studio"
)

// coordinator tracks in-flight background tasks so shutdown and tests can
// wait for them. Tasks never block UI operations; they report back by
// merging results under the App lock.
type coordinator struct {
	wg sync.WaitGroup
}

func (c *coordinator) Go(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *coordinator) Wait() {
	c.wg.Wait()
}

// fanOutNotes launches one notes task per topic. Each task succeeds or
// fails on its own: a failure marks only its topic, with a fallback text
// and the failed state, and never touches the others.
func (a *App) fanOutNotes(generation string, topics []types.Topic) {
	for _, topic := range topics {
		topic := topic
		a.tasks.Go(func() {
			a.generateNotes(generation, topic)
		})
	}
}

func (a *App) generateNotes(generation string, topic types.Topic) {
	ctx := context.Background()
	backoff := retry.WithMaxRetries(uint64(a.cfg.NotesRetries), retry.NewConstant(a.cfg.NotesBackoff))

	var notes string
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		text, err := a.cfg.Notes.GenerateNotes(ctx, topic)
		if err != nil {
			if core.TypeOf(err) == core.ErrGeneration {
				return retry.RetryableError(err)
			}
			return err
		}
		if strings.TrimSpace(text) == "" {
			return retry.RetryableError(core.NewGenerationError("empty notes"))
		}
		notes = text
		return nil
	})

	state := types.NotesReady
	if err != nil {
		a.logger.Warn("notes generation failed", "topic", topic.Name, "err", err)
		notes = notesUnavailable
		state = types.NotesFailed
	}
	if !a.mergeNotes(generation, topic.Name, notes, state) {
		return
	}
	if state == types.NotesReady && a.cfg.Recorder != nil {
		if err := a.cfg.Recorder.SaveNotes(ctx, generation, topic.Name, notes); err != nil {
			a.logger.Warn("archive notes", "topic", topic.Name, "err", err)
		}
	}
}

// mergeNotes applies a notes result to the topic it was generated for.
// Results from a superseded generation are dropped: after a reset or a new
// plan, late completions must not resurrect old state.
func (a *App) mergeNotes(generation, topicName, notes string, state types.NotesState) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if generation != a.generation || a.analysis == nil {
		return false
	}
	topic := a.analysis.Topic(topicName)
	if topic == nil {
		return false
	}
	updated := *topic
	updated.Notes = notes
	updated.NotesState = state
	a.analysis.ReplaceTopic(updated)
	return true
}

// launchQuizContinuationLocked starts the adaptive second block. The first
// block's score picks the difficulty: a high score gets harder questions,
// anything else gets easier ones. Called with the lock held.
func (a *App) launchQuizContinuationLocked() {
	generation := a.generation
	session := *a.quiz
	topic := a.analysis.Topic(session.TopicName)
	if topic == nil {
		a.finalizeQuizLocked()
		return
	}
	snapshot := *topic

	score := 0
	for i, q := range session.Questions {
		if session.Answers[i] == q.Answer {
			score++
		}
	}
	tier := types.TierEasy
	if score*4 >= 3*len(session.Questions) {
		tier = types.TierHard
	}
	asked := make([]string, len(session.Questions))
	for i, q := range session.Questions {
		asked[i] = q.Prompt
	}

	a.tasks.Go(func() {
		questions, err := a.cfg.Quizzes.GenerateQuiz(context.Background(), snapshot, studio.QuizOptions{
			Count:      FirstQuizBlock,
			Difficulty: tier,
			Exclude:    asked,
		})
		if err == nil && len(questions) == 0 {
			err = core.NewGenerationError("continuation returned no questions")
		}

		a.mu.Lock()
		defer a.mu.Unlock()
		if generation != a.generation || a.quiz == nil || a.quiz.TopicName != session.TopicName ||
			a.quiz.Extended || a.quiz.Finalized {
			return
		}
		if err != nil {
			// Fail open: the first block stands on its own.
			a.logger.Warn("quiz continuation failed", "topic", session.TopicName, "err", err)
			a.finalizeQuizLocked()
			return
		}
		a.quiz.Append(questions)
		a.view = ViewQuiz
	})
}

// finalizeQuizLocked scores the session, moves to the summary view, and
// launches summary generation in the background. Called with the lock held.
func (a *App) finalizeQuizLocked() {
	q := a.quiz
	q.Finalized = true
	q.Feedback = ""
	score := 0
	for i, question := range q.Questions {
		if q.Answers[i] == question.Answer {
			score++
		}
	}
	q.Score = score
	a.view = ViewQuizSummary

	generation := a.generation
	topicName := q.TopicName
	total := len(q.Questions)
	missed := q.Missed()

	a.tasks.Go(func() {
		ctx := context.Background()
		feedback, err := a.cfg.Summaries.GenerateSummary(ctx, topicName, score, total, missed)
		if err != nil || strings.TrimSpace(feedback) == "" {
			if err != nil {
				a.logger.Warn("summary generation failed", "topic", topicName, "err", err)
			}
			feedback = consolationFeedback
		}

		a.mu.Lock()
		if generation == a.generation && a.quiz != nil && a.quiz.Finalized && a.quiz.TopicName == topicName {
			a.quiz.Feedback = feedback
		}
		a.mu.Unlock()

		if a.cfg.Recorder != nil {
			if err := a.cfg.Recorder.RecordQuizResult(ctx, generation, topicName, score, total); err != nil {
				a.logger.Warn("archive quiz result", "err", err)
			}
		}
	})
}
