package studio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/kareemblessed/CrammAI/pkg/core"
	"github.com/kareemblessed/CrammAI/pkg/core/types"
)

const defaultModel = "gemini-2.5-flash"

// Gemini implements every studio collaborator over the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// GeminiConfig configures the collaborator set.
type GeminiConfig struct {
	APIKey string
	Model  string
	Logger *slog.Logger
}

// NewGemini creates the collaborator set.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, core.NewInvalidRequestError("gemini api key must not be empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gemini{client: client, model: model, logger: logger}, nil
}

func (g *Gemini) generate(ctx context.Context, parts []*genai.Part, jsonOutput bool) (string, error) {
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	var config *genai.GenerateContentConfig
	if jsonOutput {
		config = &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", core.NewGenerationError(err.Error())
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", core.NewGenerationError("model returned empty output")
	}
	return text, nil
}

// GeneratePlan analyzes the uploaded materials and returns the prioritized
// topic list plus a chat session scoped to those materials.
func (g *Gemini) GeneratePlan(ctx context.Context, mode types.Mode, files []types.SourceFile) (*types.AnalysisResult, ChatSession, error) {
	parts := []*genai.Part{genai.NewPartFromText(planPrompt(mode))}
	for _, f := range files {
		parts = append(parts, genai.NewPartFromBytes(f.Data, f.MIMEType))
	}

	raw, err := g.generate(ctx, parts, true)
	if err != nil {
		return nil, nil, core.NewGenerationError("generation failed")
	}
	plan, err := parsePlan(raw)
	if err != nil {
		return nil, nil, err
	}

	chat, err := g.newChat(ctx, files)
	if err != nil {
		// The plan itself succeeded; a dead chat session should not sink
		// it. The caller gets a plan and a nil-safe erroring session.
		g.logger.Warn("chat session unavailable", "err", err)
		chat = failedChat{}
	}
	return plan, chat, nil
}

// GenerateNotes writes study notes for one topic.
func (g *Gemini) GenerateNotes(ctx context.Context, topic types.Topic) (string, error) {
	raw, err := g.generate(ctx, []*genai.Part{genai.NewPartFromText(notesPrompt(topic))}, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

// GenerateMnemonic produces a structured mnemonic, retrying once when the
// model's output does not match the required line format.
func (g *Gemini) GenerateMnemonic(ctx context.Context, text string, previous *types.Mnemonic) (*types.Mnemonic, error) {
	prompt := mnemonicPrompt(text, previous)
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		raw, err := g.generate(ctx, []*genai.Part{genai.NewPartFromText(prompt)}, false)
		if err != nil {
			return nil, err
		}
		m, err := ParseMnemonic(raw)
		if err == nil {
			return m, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// GenerateQuiz produces a block of multiple-choice questions.
func (g *Gemini) GenerateQuiz(ctx context.Context, topic types.Topic, opts QuizOptions) ([]types.QuizQuestion, error) {
	raw, err := g.generate(ctx, []*genai.Part{genai.NewPartFromText(quizPrompt(topic, opts))}, true)
	if err != nil {
		return nil, err
	}
	tier := opts.Difficulty
	if tier == "" {
		tier = types.TierMedium
	}
	return parseQuiz(raw, tier)
}

// GenerateSummary produces post-quiz feedback.
func (g *Gemini) GenerateSummary(ctx context.Context, topicName string, score, total int, missed []types.QuizQuestion) (string, error) {
	raw, err := g.generate(ctx, []*genai.Part{genai.NewPartFromText(summaryPrompt(topicName, score, total, missed))}, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

func (g *Gemini) newChat(ctx context.Context, files []types.SourceFile) (ChatSession, error) {
	parts := []*genai.Part{genai.NewPartFromText(chatSystemPrompt)}
	for _, f := range files {
		parts = append(parts, genai.NewPartFromBytes(f.Data, f.MIMEType))
	}
	history := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	chat, err := g.client.Chats.Create(ctx, g.model, nil, history)
	if err != nil {
		return nil, err
	}
	return &geminiChat{chat: chat}, nil
}

type geminiChat struct {
	chat *genai.Chat
}

func (c *geminiChat) Send(ctx context.Context, message string) (string, error) {
	resp, err := c.chat.SendMessage(ctx, genai.Part{Text: message})
	if err != nil {
		return "", core.NewGenerationError(err.Error())
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", core.NewGenerationError("model returned empty output")
	}
	return text, nil
}

type failedChat struct{}

func (failedChat) Send(context.Context, string) (string, error) {
	return "", core.NewGenerationError("chat session is unavailable for this plan")
}
