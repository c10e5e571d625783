package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"meal-plan-service/internal/config"
	"meal-plan-service/internal/shared"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// ChatClient talks to an OpenAI-compatible chat completions endpoint.
// OpenAI (ChatGPT) and Groq share the same wire format.
type ChatClient struct {
	provider    string
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	httpClient  *http.Client
}

// NewChatClient creates a client for the given OpenAI-compatible endpoint.
func NewChatClient(provider, baseURL, apiKey, model string, temperature float64, timeout time.Duration) *ChatClient {
	return &ChatClient{
		provider:    provider,
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewOpenAIClient creates a ChatGPT client from config.
func NewOpenAIClient(cfg *config.Config) *ChatClient {
	return NewChatClient(config.ProviderOpenAI, cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.LLMTemperature, cfg.LLMTimeout)
}

// NewGroqClient creates a Groq client from config.
func NewGroqClient(cfg *config.Config) *ChatClient {
	return NewChatClient(config.ProviderGroq, groqBaseURL, cfg.GroqAPIKey, cfg.GroqModel, cfg.LLMTemperature, cfg.LLMTimeout)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// GenerateContent sends the conversation to the chat completions endpoint
// and returns the first choice. The model is asked for a JSON object.
func (c *ChatClient) GenerateContent(ctx context.Context, messages ...Message) (ContentResponse, error) {
	reqBody := chatRequest{
		Model:          c.model,
		Temperature:    c.temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	for _, m := range messages {
		reqBody.Messages = append(reqBody.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return ContentResponse{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return ContentResponse{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ContentResponse{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ContentResponse{}, fmt.Errorf("%s api error: status=%d body=%s", c.provider, resp.StatusCode, string(bodyBytes))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return ContentResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(chatResp.Choices) == 0 || strings.TrimSpace(chatResp.Choices[0].Message.Content) == "" {
		return ContentResponse{}, ErrNoContent
	}

	model := chatResp.Model
	if model == "" {
		model = c.model
	}

	return ContentResponse{
		Content: chatResp.Choices[0].Message.Content,
		Usage: shared.TokenUsage{
			Provider:         c.provider,
			Model:            model,
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		},
	}, nil
}
