package studio

import (
	"fmt"
	"strings"

	"github.com/kareemblessed/CrammAI/pkg/core/types"
)

func planPrompt(mode types.Mode) string {
	urgency := "a steady, thorough pace"
	switch mode {
	case types.ModeWarn:
		urgency = "limited time before the exam"
	case types.ModeZoom:
		urgency = "a last-minute cram with only hours left"
	}
	return fmt.Sprintf(`Analyze the attached course materials for a student with %s.
Return a JSON array of study topics ordered by priority. Each element:
{"name": string, "rationale": string, "key_points": [string, ...]}.
Return only JSON.`, urgency)
}

func notesPrompt(topic types.Topic) string {
	return fmt.Sprintf(`Write concise study notes for the topic %q.
Rationale for its priority: %s
Cover these key points: %s`,
		topic.Name, topic.Rationale, strings.Join(topic.KeyPoints, "; "))
}

func mnemonicPrompt(text string, previous *types.Mnemonic) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Create a mnemonic that helps memorize: %s
Output format, nothing else:
- line 1: a single memorable word, letters only
- one line per letter of that word, formatted "LETTER - what it stands for"`, text)
	if previous != nil {
		fmt.Fprintf(&b, "\nThe student disliked the previous word %q; pick a different one.", previous.Word)
	}
	return b.String()
}

func quizPrompt(topic types.Topic, opts QuizOptions) string {
	count := opts.Count
	if count <= 0 {
		count = 4
	}
	difficulty := opts.Difficulty
	if difficulty == "" {
		difficulty = types.TierMedium
	}
	var b strings.Builder
	fmt.Fprintf(&b, `Write %d multiple-choice questions about %q at %s difficulty.
Key points: %s
Return a JSON array. Each element:
{"prompt": string, "options": [4 strings], "answer": index 0-3, "explanation": string, "difficulty": %q}.
Return only JSON.`,
		count, topic.Name, difficulty, strings.Join(topic.KeyPoints, "; "), difficulty)
	if len(opts.Exclude) > 0 {
		fmt.Fprintf(&b, "\nDo not repeat any of these questions:\n- %s", strings.Join(opts.Exclude, "\n- "))
	}
	return b.String()
}

func summaryPrompt(topicName string, score, total int, missed []types.QuizQuestion) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A student scored %d/%d on a %q quiz. Write short, encouraging feedback on what to review next.", score, total, topicName)
	if len(missed) > 0 {
		b.WriteString("\nThey missed:")
		for _, q := range missed {
			fmt.Fprintf(&b, "\n- %s", q.Prompt)
		}
	}
	return b.String()
}

const chatSystemPrompt = `You are a study assistant. Answer questions using only the attached course materials. Keep answers short and cite which document the answer came from when possible.`
