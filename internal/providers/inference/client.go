package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/deepfake-detector/internal/utils"
)

const maxResponseBytes = 64 << 20

// StatusError is a non-2xx answer from an inference service.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference service returned %d: %s", e.Status, e.Body)
}

func isClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status >= 400 && se.Status < 500
}

type ClientOption func(*httpClient)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *httpClient) {
		if hc != nil {
			c.hc = hc
		}
	}
}

func WithBreaker(cfg BreakerConfig) ClientOption {
	return func(c *httpClient) { c.breakerCfg = cfg }
}

// httpClient posts a single multipart file to a path and decodes the JSON
// answer. Every call runs through the circuit breaker.
type httpClient struct {
	baseURL    string
	hc         *http.Client
	breakerCfg BreakerConfig
	cb         *gobreaker.CircuitBreaker[[]byte]
}

func newHTTPClient(name, baseURL string, timeout time.Duration, log *logrus.Logger, opts ...ClientOption) *httpClient {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	c := &httpClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		hc:         &http.Client{Timeout: timeout},
		breakerCfg: DefaultBreakerConfig(name),
	}
	for _, o := range opts {
		o(c)
	}
	c.cb = newBreaker(c.breakerCfg, log)
	return c
}

func (c *httpClient) State() string { return c.cb.State().String() }

func (c *httpClient) postFile(ctx context.Context, op, path, field, filename string, data []byte, out any) error {
	if len(data) == 0 {
		return utils.E(utils.CodeInvalidArgument, op, "empty payload", nil)
	}

	raw, err := c.cb.Execute(func() ([]byte, error) {
		return c.do(ctx, path, field, filename, data)
	})
	switch {
	case err == nil:
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return utils.E(utils.CodeUnavailable, op, "inference service circuit open", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return utils.E(utils.CodeTimeout, op, "inference request timed out", err)
	case isClientError(err):
		return utils.E(utils.CodeInvalidArgument, op, "inference service rejected input", err)
	default:
		return utils.E(utils.CodeBadGateway, op, "inference service failed", err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return utils.E(utils.CodeBadGateway, op, "invalid inference response", err)
	}
	return nil
}

func (c *httpClient) do(ctx context.Context, path, field, filename string, data []byte) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return nil, &StatusError{Status: resp.StatusCode, Body: msg}
	}
	return raw, nil
}

// AIClient talks to the classification service.
type AIClient struct{ *httpClient }

func NewAIClient(baseURL string, timeout time.Duration, log *logrus.Logger, opts ...ClientOption) *AIClient {
	return &AIClient{newHTTPClient("ai-service", baseURL, timeout, log, opts...)}
}

func (c *AIClient) AnalyzeImage(ctx context.Context, filename string, image []byte) (*FrameVerdict, error) {
	var out FrameVerdict
	if err := c.postFile(ctx, "AIClient.AnalyzeImage", "/inference/analyze-frame", "image", filename, image, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *AIClient) AnalyzeVideo(ctx context.Context, filename string, video []byte) (*VideoAnalysis, error) {
	var out VideoAnalysis
	if err := c.postFile(ctx, "AIClient.AnalyzeVideo", "/inference/analyze-video", "video", filename, video, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ForensicClient talks to the forensic verification engine.
type ForensicClient struct{ *httpClient }

func NewForensicClient(baseURL string, timeout time.Duration, log *logrus.Logger, opts ...ClientOption) *ForensicClient {
	return &ForensicClient{newHTTPClient("forensic-engine", baseURL, timeout, log, opts...)}
}

func (c *ForensicClient) AnalyzeFrame(ctx context.Context, filename string, image []byte) (*ForensicReport, error) {
	var out ForensicReport
	if err := c.postFile(ctx, "ForensicClient.AnalyzeFrame", "/forensic/analyze-frame", "image", filename, image, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
