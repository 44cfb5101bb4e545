package advisory

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	defaultRetries    = 3
	defaultRetryDelay = 2 * time.Second
	defaultQPS        = 5
)

// OpenAIAdvisorConfig configures a concrete OpenAI-backed Provider.
type OpenAIAdvisorConfig struct {
	APIKey       string
	Model        string
	Retries      int
	RetryDelay   time.Duration
	RateLimitQPS float64
}

// OpenAIAdvisor is a concrete, realistic Provider implementation. It is
// one adapter among many a deployment could plug in; prompt wording is
// illustrative, not a contract the core depends on.
type OpenAIAdvisor struct {
	client  *openai.Client
	config  OpenAIAdvisorConfig
	limiter *rate.Limiter
}

// NewOpenAIAdvisor builds an OpenAIAdvisor, applying the same
// defaults-and-validate shape used throughout this codebase's provider
// constructors.
func NewOpenAIAdvisor(config OpenAIAdvisorConfig) (*OpenAIAdvisor, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not provided")
	}
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	if config.Retries <= 0 {
		config.Retries = defaultRetries
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaultRetryDelay
	}
	if config.RateLimitQPS <= 0 {
		config.RateLimitQPS = defaultQPS
	}

	client := openai.NewClient(config.APIKey)
	limiter := rate.NewLimiter(rate.Limit(config.RateLimitQPS), 1)

	return &OpenAIAdvisor{client: client, config: config, limiter: limiter}, nil
}

// GenerateCommentary asks the model to narrate a concentration result,
// retrying transient failures under the configured outbound rate limit.
func (o *OpenAIAdvisor) GenerateCommentary(ctx context.Context, req CommentaryRequest) (string, error) {
	prompt := buildPrompt(req)

	var lastErr error
	for attempt := 0; attempt <= o.config.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := o.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("advisory rate limiter error: %w", err)
		}

		resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: o.config.Model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err == nil && len(resp.Choices) > 0 {
			return resp.Choices[0].Message.Content, nil
		}
		lastErr = err
		if lastErr == nil {
			lastErr = fmt.Errorf("advisory provider returned no choices")
		}
		if attempt < o.config.Retries {
			time.Sleep(o.config.RetryDelay)
		}
	}
	return "", fmt.Errorf("OpenAIAdvisor.GenerateCommentary failed: %w", lastErr)
}

func buildPrompt(req CommentaryRequest) string {
	totals := req.Result.Totals
	top := ""
	if len(totals.Head) > 0 {
		top = totals.Head[0].GroupBy
	}
	return fmt.Sprintf(
		"Summarize concentration of %q across %q for dataset %s in two sentences. "+
			"The leading entity is %q with a total of %.2f across %d entities.",
		req.ValueCol, req.GroupBy, req.DatasetID, top, totals.Total, totals.TotalEntities,
	)
}
