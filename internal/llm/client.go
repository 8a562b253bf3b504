// Package llm talks to an OpenAI-compatible chat completion endpoint and
// turns its replies into strict JSON.
package llm

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

var (
	ErrRateLimited = errors.New("reasoning service rate limited")
	ErrTimeout     = errors.New("reasoning service timed out")
	ErrEmptyReply  = errors.New("reasoning service returned no choices")
)

type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	JSONMode    bool
	HTTPClient  *http.Client
}

type Client struct {
	api  *openai.Client
	opts Options
	log  logrus.FieldLogger
}

func New(opts Options, log logrus.FieldLogger) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Client{
		api:  openai.NewClientWithConfig(cfg),
		opts: opts,
		log:  log.WithField("component", "llm"),
	}
}

// Chat sends one system + user exchange and returns the raw reply text.
// Rate limiting and per-attempt timeouts are retried with exponential
// backoff; every other failure is returned at once.
func (c *Client) Chat(ctx context.Context, system, user string, temperature float32) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: temperature,
	}
	if c.opts.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := c.opts.Backoff << (attempt - 2)
			c.log.WithFields(logrus.Fields{"attempt": attempt, "wait": wait}).
				WithError(lastErr).Warn("retrying reasoning call")
			if err := sleep(ctx, wait); err != nil {
				return "", err
			}
		}

		reply, err := c.once(ctx, req)
		if err == nil {
			return reply, nil
		}
		if ctx.Err() != nil {
			return "", errors.Wrap(ctx.Err(), "reasoning call cancelled")
		}
		lastErr = err
		if !Retryable(err) {
			return "", err
		}
	}
	return "", errors.Wrapf(lastErr, "reasoning call failed after %d attempts", c.opts.MaxAttempts)
}

func (c *Client) once(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(callCtx, req)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	return resp.Choices[0].Message.Content, nil
}

// Retryable reports whether a failed call is worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout)
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(ErrTimeout, err.Error())
	}
	if statusCode(err) == http.StatusTooManyRequests {
		return errors.Wrap(ErrRateLimited, err.Error())
	}
	return errors.Wrap(err, "reasoning call")
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "reasoning call cancelled")
	case <-t.C:
		return nil
	}
}
