package qchain

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

const maxErrorBodyBytes = 256

// HashClient calls the remote quantum hash service.
type HashClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// HashClientOption configures a HashClient.
type HashClientOption func(*HashClient)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) HashClientOption {
	return func(h *HashClient) {
		h.client = c
	}
}

// WithHashTimeout sets the per-request timeout.
func WithHashTimeout(timeout time.Duration) HashClientOption {
	return func(h *HashClient) {
		h.client.Timeout = timeout
	}
}

// WithRateLimit limits outbound requests to rps per second with the given
// burst. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) HashClientOption {
	return func(h *HashClient) {
		if rps <= 0 {
			h.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewHashClient creates a client for the service at baseURL.
func NewHashClient(baseURL string, opts ...HashClientOption) *HashClient {
	h := &HashClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: DefaultHashTimeout,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type generateHashRequest struct {
	ImageData   string `json:"image_data"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type generateHashResponse struct {
	QuantumHash string `json:"quantum_hash"`
}

// GenerateHash posts the image and metadata to /generate-hash and returns the
// quantum hash. Any non-2xx status or a response without quantum_hash is an
// ErrExternalService.
func (h *HashClient) GenerateHash(ctx context.Context, image []byte, name, description string) (string, error) {
	body, err := json.Marshal(generateHashRequest{
		ImageData:   base64.StdEncoding.EncodeToString(image),
		Name:        name,
		Description: description,
	})
	if err != nil {
		return "", fmt.Errorf("encode hash request: %w", err)
	}

	resp, err := h.do(ctx, http.MethodPost, "/generate-hash", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.Join(ErrExternalService, fmt.Errorf("generate hash: status %d: %s", resp.StatusCode, readSnippet(resp.Body)))
	}

	var out generateHashResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Join(ErrExternalService, fmt.Errorf("decode hash response: %w", err))
	}
	if out.QuantumHash == "" {
		return "", errors.Join(ErrExternalService, fmt.Errorf("hash response has no quantum_hash"))
	}
	return out.QuantumHash, nil
}

// CheckHealth calls GET /health.
func (h *HashClient) CheckHealth(ctx context.Context) error {
	resp, err := h.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Join(ErrExternalService, fmt.Errorf("health: status %d", resp.StatusCode))
	}
	return nil
}

func (h *HashClient) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, errors.Join(ErrExternalService, fmt.Errorf("rate limit wait: %w", err))
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return nil, errors.Join(ErrExternalService, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Join(ErrExternalService, err)
	}
	return resp, nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	return strings.TrimSpace(string(b))
}
