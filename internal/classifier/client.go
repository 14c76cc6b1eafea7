package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/IliaW/page-guard/config"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const systemPrompt = `You are a web safety analyst. You receive a JSON summary of a web page the user just opened:
its URL, title, visible text, selected HTML, external scripts, forms (action, method, input count),
iframes and external links. Values ending in "…[truncated]" were cut; the "truncated" object lists
how many list items were dropped.

Decide whether the page is a phishing, scam, malware-delivery or otherwise harmful page.
Answer with a single JSON object and nothing else:
{"status": "SAFE" | "SUSPICIOUS" | "DANGEROUS",
 "explanation": "<one or two sentences for a non-technical user>",
 "confidence_score": <number between 0 and 1>,
 "primary_threat_type": "<phishing | scam | malware | credential_harvesting | none | other>"}`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Client calls an OpenAI-compatible chat completions endpoint. It never retries.
type Client struct {
	resty       *resty.Client
	rateLimiter *rate.Limiter
	cfg         *config.ClassifierConfig
}

func NewClient(cfg *config.ClassifierConfig) *Client {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsLimit > 0 && cfg.TimeInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.TimeInterval), cfg.RequestsLimit)
	}
	restyClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		restyClient.SetHeader("User-Agent", cfg.UserAgent)
	}

	return &Client{
		resty:       restyClient,
		rateLimiter: limiter,
		cfg:         cfg,
	}
}

// Classify sends the bounded page payload and returns the model's raw answer.
// Apart from a missing key every failure is a *TransportError; interpreting the answer is up to Validate.
func (c *Client) Classify(ctx context.Context, apiKey string, payload string) (string, error) {
	if apiKey == "" {
		return "", ErrMissingCredential
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		slog.Error("rate limiter failed.", slog.String("err", err.Error()))
		return "", &TransportError{Detail: "rate limiter: " + err.Error(), Err: err}
	}

	start := time.Now()
	resp, err := c.resty.R().
		SetContext(ctx).
		SetAuthToken(apiKey).
		SetBody(chatRequest{
			Model: c.cfg.Model,
			Messages: []chatMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: payload},
			},
			Temperature:    c.cfg.Temperature,
			MaxTokens:      c.cfg.MaxTokens,
			ResponseFormat: map[string]string{"type": "json_object"},
		}).
		Post("/chat/completions")
	if err != nil {
		detail := err.Error()
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			detail = "request timed out: " + detail
		}
		slog.Error("failed to make a request to the classifier.", slog.String("err", err.Error()))
		return "", &TransportError{Detail: detail, Err: err}
	}
	slog.Debug("classifier responded.", slog.Int("status code", resp.StatusCode()),
		slog.Duration("took", time.Since(start)))

	if !isSuccess(resp.StatusCode()) {
		body := resp.String()
		if len(body) > 300 {
			body = body[:300]
		}
		slog.Error("classifier response status code is not successful.",
			slog.Int("status code", resp.StatusCode()),
			slog.String("body", body))
		return "", &TransportError{StatusCode: resp.StatusCode(), Detail: strings.TrimSpace(body)}
	}

	var completion chatResponse
	if err = json.Unmarshal(resp.Body(), &completion); err != nil {
		slog.Error("classifier completion unmarshalling error.", slog.String("err", err.Error()))
		return "", &TransportError{StatusCode: resp.StatusCode(), Detail: "malformed completion envelope", Err: err}
	}
	if len(completion.Choices) == 0 {
		return "", &TransportError{StatusCode: resp.StatusCode(), Detail: "completion has no choices"}
	}

	return completion.Choices[0].Message.Content, nil
}

// String is used in logs.
func (c *Client) String() string {
	return fmt.Sprintf("classifier(%s, %s)", c.cfg.BaseURL, c.cfg.Model)
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
