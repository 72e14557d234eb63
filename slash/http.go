package slash

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// DefaultAPIBase is the Discord REST root used when none is configured.
const DefaultAPIBase = "https://discord.com/api/v10"

// maxResponseBody bounds how much of an error response is kept.
const maxResponseBody = 64 << 10

// HTTPPoster sends interactions with the raw account token, outside the
// session's REST client, so the exact status and body reach the caller.
type HTTPPoster struct {
	Client    *http.Client
	BaseURL   string
	Token     string
	UserAgent string
}

// NewHTTPPoster returns a poster for token against base.
func NewHTTPPoster(base, token string) *HTTPPoster {
	if base == "" {
		base = DefaultAPIBase
	}
	return &HTTPPoster{
		Client:  &http.Client{Timeout: 20 * time.Second},
		BaseURL: strings.TrimRight(base, "/"),
		Token:   token,
	}
}

// PostInteraction implements Poster.
func (p *HTTPPoster) PostInteraction(ctx context.Context, payload *Interaction) (int, []byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, errors.Wrap(err, "encode interaction")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/interactions", bytes.NewReader(b))
	if err != nil {
		return 0, nil, errors.Wrap(err, "build interaction request")
	}
	req.Header.Set("Authorization", strings.TrimPrefix(p.Token, "Bot "))
	req.Header.Set("Content-Type", "application/json")
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, body, errors.Wrap(err, "read interaction response")
	}
	return resp.StatusCode, body, nil
}
