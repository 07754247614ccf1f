package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/voxreader/internal/content"
)

// maxTranslationBytes caps the size of a translation response.
const maxTranslationBytes = 1 << 20

// ErrResponseTooLarge is returned when a translation exceeds
// maxTranslationBytes. The partial text is discarded.
var ErrResponseTooLarge = errors.New("translation: response too large")

// Client calls the backend's POST /translate endpoint. The request body is
// JSON {"text", "target_lang"}; the response body is the plain translated
// text.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient returns a Client for the backend rooted at baseURL. A nil
// httpClient gets an otelhttp-instrumented default.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("translation: backend URL must not be empty")
	}
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/translate",
		http:     httpClient,
	}, nil
}

type translateRequest struct {
	Text       string `json:"text"`
	TargetLang string `json:"target_lang"`
}

// Translate implements [Translator]. Transport failures and non-2xx answers
// are returned as *content.NetworkError.
func (c *Client) Translate(ctx context.Context, text, targetLang string) (string, error) {
	body, err := json.Marshal(translateRequest{Text: text, TargetLang: targetLang})
	if err != nil {
		return "", fmt.Errorf("translation: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("translation: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &content.NetworkError{Op: "translate", URL: c.endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxTranslationBytes+1))
	if err != nil {
		return "", &content.NetworkError{Op: "translate", URL: c.endpoint, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &content.NetworkError{
			Op:         "translate",
			URL:        c.endpoint,
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(raw[:min(len(raw), maxTranslationBytes)]))),
		}
	}
	if len(raw) > maxTranslationBytes {
		return "", fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, maxTranslationBytes)
	}
	return string(raw), nil
}

// Ensure Client implements Translator at compile time.
var _ Translator = (*Client)(nil)
