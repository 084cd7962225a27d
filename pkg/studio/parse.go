package studio

import (
	"encoding/json"
	"strings"

	"github.com/kareemblessed/CrammAI/pkg/core"
	"github.com/kareemblessed/CrammAI/pkg/core/types"
)

type planTopicJSON struct {
	Name      string   `json:"name"`
	Rationale string   `json:"rationale"`
	KeyPoints []string `json:"key_points"`
}

// parsePlan decodes a plan-generation response into an AnalysisResult.
// Empty or malformed provider output collapses into a generic generation
// failure; callers never see provider JSON details.
func parsePlan(raw string) (*types.AnalysisResult, error) {
	raw = strings.TrimSpace(stripCodeFence(raw))
	if raw == "" {
		return nil, core.NewGenerationError("generation failed")
	}
	var topics []planTopicJSON
	if err := json.Unmarshal([]byte(raw), &topics); err != nil {
		return nil, core.NewGenerationError("generation failed")
	}

	result := &types.AnalysisResult{}
	for _, t := range topics {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			continue
		}
		result.Topics = append(result.Topics, types.Topic{
			Name:       name,
			Rationale:  strings.TrimSpace(t.Rationale),
			KeyPoints:  t.KeyPoints,
			NotesState: types.NotesPending,
		})
	}
	if len(result.Topics) == 0 {
		return nil, core.NewGenerationError("generation failed")
	}
	return result, nil
}

type quizQuestionJSON struct {
	Prompt      string   `json:"prompt"`
	Options     []string `json:"options"`
	Answer      int      `json:"answer"`
	Explanation string   `json:"explanation"`
	Difficulty  string   `json:"difficulty,omitempty"`
}

// parseQuiz decodes a quiz-generation response. Questions without exactly
// four options or with an out-of-range answer index are dropped; an empty
// surviving set is an error.
func parseQuiz(raw string, fallback types.Tier) ([]types.QuizQuestion, error) {
	raw = strings.TrimSpace(stripCodeFence(raw))
	if raw == "" {
		return nil, core.NewGenerationError("quiz generation failed")
	}
	var decoded []quizQuestionJSON
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, core.NewGenerationError("quiz generation failed")
	}

	var questions []types.QuizQuestion
	for _, q := range decoded {
		if strings.TrimSpace(q.Prompt) == "" || len(q.Options) != types.QuizOptionCount {
			continue
		}
		if q.Answer < 0 || q.Answer >= types.QuizOptionCount {
			continue
		}
		question := types.QuizQuestion{
			Prompt:      strings.TrimSpace(q.Prompt),
			Answer:      q.Answer,
			Explanation: strings.TrimSpace(q.Explanation),
			Difficulty:  fallback,
		}
		copy(question.Options[:], q.Options)
		if tier := types.Tier(strings.ToLower(strings.TrimSpace(q.Difficulty))); tier == types.TierEasy || tier == types.TierMedium || tier == types.TierHard {
			question.Difficulty = tier
		}
		questions = append(questions, question)
	}
	if len(questions) == 0 {
		return nil, core.NewGenerationError("quiz generation returned no usable questions")
	}
	return questions, nil
}

// stripCodeFence removes a surrounding markdown code fence if the model
// wrapped its JSON in one.
func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return raw
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return trimmed
}
