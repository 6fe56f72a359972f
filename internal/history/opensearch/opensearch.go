// Package opensearch indexes history events in OpenSearch or Elasticsearch
// through the document REST API.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/gamewatch/internal/history"
)

const defaultTimeout = 5 * time.Second

// Sink creates one document per event at <base>/<index>/_create/<id>. Each
// event gets a fresh id, and a 409 for an id that already exists counts as
// delivered so a retried send never duplicates a document.
type Sink struct {
	client   *http.Client
	baseURL  string
	index    string
	username string
	password string
	newID    func() string
}

// Option configures a Sink.
type Option func(*Sink)

// WithBasicAuth sends credentials with every request.
func WithBasicAuth(username, password string) Option {
	return func(s *Sink) { s.username, s.password = username, password }
}

// WithHTTPClient replaces the default client (5s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sink) { s.client = c }
}

func New(baseURL, index string, opts ...Option) *Sink {
	s := &Sink{
		client:  &http.Client{Timeout: defaultTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
		newID:   func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	u := fmt.Sprintf("%s/%s/_create/%s", s.baseURL, url.PathEscape(s.index), s.newID())
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 300 || resp.StatusCode == http.StatusConflict {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return fmt.Errorf("opensearch sink status %d: %s", resp.StatusCode, msg)
	}
	return fmt.Errorf("opensearch sink status %d", resp.StatusCode)
}
