package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/NatureBlueee/Towow-sub000/logging"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("openai client not configured")

// LLMConfig holds configuration for model interactions
type LLMConfig struct {
	APIKey         string
	BaseURL        string // empty uses the OpenAI default
	ChatModel      string
	EmbeddingModel string
	MaxTokens      int
	Temperature    float32
	Timeout        time.Duration // per request

	RequestsPerSecond float64
	Burst             int
	BreakerFailures   uint32        // consecutive failures that open the breaker
	BreakerCooldown   time.Duration // how long the breaker stays open
}

// DefaultLLMConfig returns standard LLM configuration
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		ChatModel:         openai.GPT4oMini,
		EmbeddingModel:    string(openai.SmallEmbedding3),
		MaxTokens:         1024,
		Temperature:       0.2,
		Timeout:           30 * time.Second,
		RequestsPerSecond: 10,
		Burst:             20,
		BreakerFailures:   5,
		BreakerCooldown:   30 * time.Second,
	}
}

// Client wraps the OpenAI API with outbound pacing and a circuit breaker.
type Client struct {
	api     *openai.Client
	cfg     LLMConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Entry
}

// NewClient creates a client. It fails without an API key.
func NewClient(cfg LLMConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	def := DefaultLLMConfig()
	if cfg.ChatModel == "" {
		cfg.ChatModel = def.ChatModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = def.EmbeddingModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = def.BreakerCooldown
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	logger := logging.For("ai")
	c := &Client{
		api:     openai.NewClientWithConfig(apiCfg),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "openai",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellations say nothing about the provider.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Warn("Circuit breaker state changed")
		},
	})
	return c, nil
}

// Config returns the effective configuration.
func (c *Client) Config() LLMConfig { return c.cfg }

func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
		return fn(rctx)
	})
	log := c.logger.WithFields(logrus.Fields{"op": op, "duration": time.Since(start)})
	if err != nil {
		log.WithError(err).Warn("Model request failed")
		return nil, err
	}
	log.Debug("Model request completed")
	return out, nil
}

// Embed returns the embedding of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.do(ctx, "embed", func(ctx context.Context) (interface{}, error) {
		resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return nil, errors.New("empty embedding response")
		}
		return resp.Data[0].Embedding, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]float32), nil
}

// ChatJSON sends a system and user prompt and decodes the model's JSON
// object answer into out.
func (c *Client) ChatJSON(ctx context.Context, system, user string, out interface{}) error {
	raw, err := c.do(ctx, "chat", func(ctx context.Context) (interface{}, error) {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.cfg.ChatModel,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
			MaxTokens:   c.cfg.MaxTokens,
			Temperature: c.cfg.Temperature,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("empty chat response")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return err
	}
	content := strings.TrimSpace(raw.(string))
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("model returned invalid JSON: %w", err)
	}
	return nil
}
