// Package gemini implements the summarizer collaborator on Google's genai
// SDK. Failures are tagged with the domain taxonomy so the pipeline can tell
// a rejected credential from a wobbly backend.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"linkdigest/internal/domain"
	"linkdigest/internal/ports"
)

const promptTemplate = `Summarize the linked article for a discussion thread.
Be concise and neutral; 3-5 sentences, no preamble.

URL: %s
Title: %s

%s`

// Body is truncated before prompting; the quota reservation already assumes
// the worst case, this just bounds one call's cost.
const maxBodyChars = 24000

var _ ports.Summarizer = (*Summarizer)(nil)

type Summarizer struct {
	model string

	// The client is cached per API key. The settings store stays the source
	// of truth for the key itself; a changed key just rebuilds the client.
	mu     sync.Mutex
	apiKey string
	client *genai.Client
}

func New(model string) *Summarizer {
	return &Summarizer{model: model}
}

func (s *Summarizer) clientFor(ctx context.Context, apiKey string) (*genai.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil && s.apiKey == apiKey {
		return s.client, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, domain.Fail(domain.FailAuth, fmt.Errorf("creating gemini client: %w", err))
	}
	s.apiKey = apiKey
	s.client = c
	return c, nil
}

func (s *Summarizer) Summarize(ctx context.Context, req domain.SummaryRequest) (string, error) {
	if req.APIKey == "" {
		return "", domain.Failf(domain.FailAuth, "empty gemini api key")
	}
	client, err := s.clientFor(ctx, req.APIKey)
	if err != nil {
		return "", err
	}

	body := req.Body
	if len(body) > maxBodyChars {
		body = body[:maxBodyChars]
	}
	prompt := fmt.Sprintf(promptTemplate, req.URL, req.Title, body)

	resp, err := client.Models.GenerateContent(ctx, s.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(req.Temperature),
		MaxOutputTokens: req.MaxOutputTokens,
	})
	if err != nil {
		return "", classify(err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", domain.Failf(domain.FailUnknown, "empty summary from model")
	}
	return text, nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Fail(domain.FailTimeout, err)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401 || apiErr.Code == 403:
			return domain.Fail(domain.FailAuth, err)
		case apiErr.Code == 429:
			return domain.Fail(domain.FailRateLimited, err)
		case apiErr.Code >= 500:
			return domain.Fail(domain.FailServiceUnavailable, err)
		}
		return domain.Fail(domain.FailUnknown, err)
	}
	return domain.Fail(domain.ClassifyTransport(err), err)
}
