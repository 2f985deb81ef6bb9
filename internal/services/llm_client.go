package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tarot_reading_go_backend/internal/metrics"

	"github.com/google/generative-ai-go/genai"
	"github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"google.golang.org/api/option"
)

var (
	// ErrConfiguration means no usable credential or client exists for the
	// requested model.
	ErrConfiguration = errors.New("text generation is not configured")
	// ErrUpstream wraps failures returned by the text-generation API.
	ErrUpstream = errors.New("text generation failed")
)

const (
	RoleSystem = "system"

	providerOpenAI = "openai"
	providerGemini = "gemini"
)

type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model        string
	Messages     []ChatTurn
	Temperature  float64
	JSONResponse bool
}

// OpenAIChatClient calls the chat completions endpoint of OpenAI or any
// compatible server.
type OpenAIChatClient struct {
	client openai.Client
}

func NewOpenAIChatClient(apiKey, baseURL string, extra ...openaiopt.RequestOption) *OpenAIChatClient {
	opts := []openaiopt.RequestOption{openaiopt.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, openaiopt.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)
	return &OpenAIChatClient{client: openai.NewClient(opts...)}
}

func (c *OpenAIChatClient) Complete(ctx context.Context, req ChatRequest) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(req.Model),
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: openai.Float(req.Temperature),
	}
	if req.JSONResponse {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrUpstream)
	}
	return completion.Choices[0].Message.Content, nil
}

func toOpenAIMessages(turns []ChatTurn) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	return messages
}

// GeminiChatClient serves models whose name starts with "gemini".
type GeminiChatClient struct {
	client *genai.Client
}

func NewGeminiChatClient(ctx context.Context, apiKey string) (*GeminiChatClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GeminiChatClient{client: client}, nil
}

func (c *GeminiChatClient) Close() error {
	return c.client.Close()
}

func (c *GeminiChatClient) Complete(ctx context.Context, req ChatRequest) (string, error) {
	model := c.client.GenerativeModel(req.Model)
	model.SetTemperature(float32(req.Temperature))
	if req.JSONResponse {
		model.ResponseMIMEType = "application/json"
	}

	system, history, last := splitForGemini(req.Messages)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	session := model.StartChat()
	session.History = history

	resp, err := session.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: empty candidates", ErrUpstream)
	}

	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			out.WriteString(string(text))
		}
	}
	return out.String(), nil
}

// splitForGemini separates system turns into the system instruction and
// keeps the final turn as the message to send.
func splitForGemini(turns []ChatTurn) (string, []*genai.Content, string) {
	var system []string
	var history []*genai.Content
	for _, turn := range turns {
		switch turn.Role {
		case RoleSystem:
			system = append(system, turn.Content)
		case "assistant":
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(turn.Content)}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(turn.Content)}})
		}
	}

	var last string
	if n := len(history); n > 0 {
		if text, ok := history[n-1].Parts[0].(genai.Text); ok {
			last = string(text)
		}
		history = history[:n-1]
	}
	return strings.Join(system, "\n\n"), history, last
}

// LLMRouter picks a provider from the model name configured at request time.
type LLMRouter struct {
	openAI  ChatCompleter
	gemini  ChatCompleter
	metrics *metrics.Metrics
}

// NewLLMRouter accepts nil providers; requests for them fail with
// ErrConfiguration.
func NewLLMRouter(openAI, gemini ChatCompleter, m *metrics.Metrics) *LLMRouter {
	return &LLMRouter{openAI: openAI, gemini: gemini, metrics: m}
}

func (r *LLMRouter) Complete(ctx context.Context, req ChatRequest) (string, error) {
	provider, client := providerOpenAI, r.openAI
	if strings.HasPrefix(strings.ToLower(req.Model), providerGemini) {
		provider, client = providerGemini, r.gemini
	}
	if client == nil {
		return "", fmt.Errorf("%w: no %s client for model %q", ErrConfiguration, provider, req.Model)
	}

	started := time.Now()
	text, err := client.Complete(ctx, req)
	r.metrics.ObserveLLM(provider, started, err)
	return text, err
}
