package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sgazanfar/avatar-ai-serverless/internal/audio"
	"github.com/sgazanfar/avatar-ai-serverless/internal/memory"
)

const (
	maxReplyTokens   = 150
	replyTemperature = 0.8
	maxSpeechChars   = 4000
)

// systemPrompt steers replies toward short spoken sentences that work with
// lip-sync rendering.
const systemPrompt = `You are a friendly, helpful AI avatar assistant.
You speak naturally and conversationally, as if you're a real person having a face-to-face conversation.
Keep responses concise but engaging (1-3 sentences typically, maximum 150 words).
Be expressive and use natural speech patterns that will work well with lip-sync technology.
Avoid using markdown, bullet points, or structured text - speak naturally as if talking to someone.
Show personality and emotion in your responses while remaining helpful and professional.
Use contractions and casual language to sound more human and natural.`

type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	LLMModel string
	STTModel string
	TTSModel string
}

// OpenAIProvider implements the transcription, generation, and synthesis
// stages against the OpenAI API.
type OpenAIProvider struct {
	client *openai.Client
	cfg    OpenAIConfig
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if strings.TrimSpace(cfg.LLMModel) == "" {
		cfg.LLMModel = "gpt-4o-mini"
	}
	if strings.TrimSpace(cfg.STTModel) == "" {
		cfg.STTModel = openai.Whisper1
	}
	if strings.TrimSpace(cfg.TTSModel) == "" {
		cfg.TTSModel = string(openai.TTSModel1HD)
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	return &OpenAIProvider{client: openai.NewClientWithConfig(oc), cfg: cfg}
}

func (p *OpenAIProvider) Transcribe(ctx context.Context, clip []byte) (string, error) {
	if len(clip) == 0 {
		return "", errors.New("empty audio clip")
	}

	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.cfg.STTModel,
		FilePath: "clip." + audio.DetectFormat(clip),
		Reader:   bytes.NewReader(clip),
		Language: "en",
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (p *OpenAIProvider) Respond(ctx context.Context, userInput string, history []memory.Message) (Reply, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userInput,
	})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.cfg.LLMModel,
		Messages:    messages,
		MaxTokens:   maxReplyTokens,
		Temperature: replyTemperature,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, errors.New("chat completion returned no choices")
	}

	return Reply{
		Text:       strings.TrimSpace(resp.Choices[0].Message.Content),
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

func (p *OpenAIProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty synthesis text")
	}
	if runes := []rune(text); len(runes) > maxSpeechChars {
		text = string(runes[:maxSpeechChars]) + "..."
	}

	resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(p.cfg.TTSModel),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatWav,
	})
	if err != nil {
		return nil, fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()

	speech, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech audio: %w", err)
	}
	return speech, nil
}

// Healthcheck verifies the API key by listing available models.
func (p *OpenAIProvider) Healthcheck(ctx context.Context) error {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return ErrNotConfigured
	}
	if _, err := p.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}
