// Package fetcher retrieves the page behind an item's URL. Extraction here
// is deliberately crude (title tag, tags stripped); anything smarter belongs
// to a dedicated extraction service.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"linkdigest/internal/domain"
	"linkdigest/internal/ports"
)

const (
	maxBodyBytes   = 2 << 20 // 2 MiB cap on what we will read
	defaultTimeout = 20 * time.Second
	userAgent      = "linkdigest/1.0 (+summary bot)"
)

var (
	titleRe  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	scriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

var _ ports.Fetcher = (*Fetcher)(nil)

type Fetcher struct {
	http *http.Client
}

func New() *Fetcher {
	return &Fetcher{http: &http.Client{Timeout: defaultTimeout}}
}

func (f *Fetcher) Fetch(ctx context.Context, url string) (*domain.Content, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.Failf(domain.FailUnknown, "building fetch request: %v", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, domain.Fail(domain.ClassifyTransport(err), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := domain.FromHTTPStatus(resp.StatusCode)
		return nil, domain.Fail(kind, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, domain.Fail(domain.ClassifyTransport(err), err)
	}

	html := string(raw)
	content := &domain.Content{
		Title:        extractTitle(html),
		Body:         extractText(html),
		CanonicalURL: resp.Request.URL.String(),
	}
	if content.Body == "" {
		return nil, domain.Failf(domain.FailUnknown, "no readable content at %s", url)
	}
	return content, nil
}

func extractTitle(html string) string {
	m := titleRe.FindStringSubmatch(html)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(spaceRe.ReplaceAllString(m[1], " "))
}

func extractText(html string) string {
	text := scriptRe.ReplaceAllString(html, " ")
	text = tagRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
}
