// Package origin is the HTTP client for the system work items come from:
// item metadata lookup, result publication and the optional pin follow-up.
package origin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"linkdigest/internal/config"
	"linkdigest/internal/domain"
	"linkdigest/internal/ports"
)

var _ ports.Origin = (*Client)(nil)

type Client struct {
	base  string
	token string
	http  *http.Client
}

func New(cfg config.Origin) *Client {
	return &Client{
		base:  cfg.BaseURL,
		token: cfg.Token,
		http:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) ItemByID(ctx context.Context, id string) (*domain.ItemMeta, error) {
	var meta domain.ItemMeta
	if err := c.do(ctx, http.MethodGet, "/api/items/"+id, nil, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (c *Client) PublishResult(ctx context.Context, itemID, text string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]string{"text": text}
	if err := c.do(ctx, http.MethodPost, "/api/items/"+itemID+"/comments", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) PinResult(ctx context.Context, resultID string) error {
	return c.do(ctx, http.MethodPost, "/api/comments/"+resultID+"/pin", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Fail(domain.ClassifyTransport(err), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := domain.FromHTTPStatus(resp.StatusCode)
		return domain.Fail(kind, fmt.Errorf("origin %s %s: status %d", method, path, resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.Failf(domain.FailUnknown, "decoding origin response: %v", err)
	}
	return nil
}
