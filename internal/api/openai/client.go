package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"github.com/ca3003/crypto-analyzer-bot/models"
)

// Client wraps the OpenAI API client
type Client struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

// NewClient creates a new OpenAI client
func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = openai.GPT4
	}
	return &Client{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: log.With().Str("component", "openai_client").Logger(),
	}
}

// GenerateCompletion sends a prompt to OpenAI and returns the completion
func (c *Client) GenerateCompletion(ctx context.Context, prompt string) (string, error) {
	c.logger.Debug().Str("prompt", prompt).Msg("Sending prompt to OpenAI")

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
		},
	)

	if err != nil {
		c.logger.Error().Err(err).Msg("OpenAI API error")
		return "", err
	}

	if len(resp.Choices) == 0 {
		c.logger.Warn().Msg("OpenAI returned empty choices")
		return "", fmt.Errorf("model returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

// GenerateMarketAnalysis asks the model for a short scalping-oriented
// read of recent price action for one trading pair.
func (c *Client) GenerateMarketAnalysis(ctx context.Context, symbol string, currentPrice float64, klines []models.Kline) (string, error) {
	return c.GenerateCompletion(ctx, FormatKlinePrompt(symbol, currentPrice, klines))
}

// FormatKlinePrompt creates a formatted analysis prompt from kline data
func FormatKlinePrompt(symbol string, currentPrice float64, klines []models.Kline) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("You are a crypto market analyst. Current %s price: %.8g\n", symbol, currentPrice))
	sb.WriteString("Recent candles (UTC, open -> close, high/low, volume):\n")

	start := len(klines) - 24
	if start < 0 {
		start = 0
	}
	for i := start; i < len(klines); i++ {
		k := klines[i]
		sb.WriteString(fmt.Sprintf("%s: %.8g -> %.8g (H %.8g / L %.8g, vol %.6g)\n",
			k.OpenTime.Format("2006-01-02 15:04"), k.Open, k.Close, k.High, k.Low, k.Volume))
	}

	sb.WriteString(`
Based on this data, give a short analysis of the likely direction over the next few hours.
Answer in the following format:
Direction: UP/DOWN/SIDEWAYS
Key levels: <support and resistance>
Explanation: <2-3 sentences>
This is not financial advice.`)

	return sb.String()
}
