package storage

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var _ SessionStore = (*RemoteStorage)(nil)

var tracer = otel.Tracer("github.com/dgellow/ebo-bff/internal/storage")

// RemoteStorage talks to an external session store over HTTP:
//
//	GET    {base}/sessions/{id}  -> 200 Session JSON | 404
//	PUT    {base}/sessions/{id}  <- Session JSON
//	DELETE {base}/sessions/{id}
//
// Requests carry "Authorization: Bearer {token}" when a token is set.
type RemoteStorage struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewRemoteStorage creates a client for the store at baseURL.
func NewRemoteStorage(baseURL, token string, httpClient *http.Client) (*RemoteStorage, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("store URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid store URL: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteStorage{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}, nil
}

func (s *RemoteStorage) sessionURL(id string) string {
	return s.baseURL + "/sessions/" + url.PathEscape(id)
}

func (s *RemoteStorage) do(ctx context.Context, method, id string, body []byte) (*http.Response, error) {
	ctx, span := tracer.Start(ctx, "storage.remote")
	defer span.End()
	span.SetAttributes(attribute.String("http.request.method", method))

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.sessionURL(id), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	return resp, nil
}

func (s *RemoteStorage) GetSession(ctx context.Context, id string) (*Session, error) {
	resp, err := s.do(ctx, http.MethodGet, id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrSessionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to load session: %d", resp.StatusCode)
	}

	var sess Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &sess, nil
}

func (s *RemoteStorage) PutSession(ctx context.Context, id string, sess *Session) error {
	body, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	resp, err := s.do(ctx, http.MethodPut, id, body)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("failed to save session: %d", resp.StatusCode)
	}
	return nil
}

func (s *RemoteStorage) DeleteSession(ctx context.Context, id string) error {
	resp, err := s.do(ctx, http.MethodDelete, id, nil)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("failed to delete session: %d", resp.StatusCode)
	}
	return nil
}

// CleanupExpiredSessions is a no-op: the remote store owns record lifetime.
func (s *RemoteStorage) CleanupExpiredSessions(context.Context) (int, error) {
	return 0, nil
}
