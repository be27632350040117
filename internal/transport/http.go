package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StatusError is a non-2xx answer from the gateway
type StatusError struct {
	ConnID string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway post %s: status %d: %s", e.ConnID, e.Code, e.Body)
}

// HTTPSender posts frames to a managed websocket gateway that owns the sockets:
// POST {endpoint}/@connections/{id}. 410 Gone means the socket is closed.
type HTTPSender struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSender targets endpoint (e.g. https://abc.execute-api.us-east-2.amazonaws.com/prod)
func NewHTTPSender(endpoint string, client *http.Client) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPSender{endpoint: strings.TrimRight(endpoint, "/"), client: client}
}

func (s *HTTPSender) Deliver(ctx context.Context, connID string, payload []byte) error {
	u := s.endpoint + "/@connections/" + url.PathEscape(connID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway post %s: %w", connID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case resp.StatusCode == http.StatusGone:
		return fmt.Errorf("gateway post %s: %w", connID, ErrGone)
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{ConnID: connID, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
}
