package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tortodelova/backend/internal/logger"
	apperrors "github.com/tortodelova/backend/internal/pkg/errors"
)

// TranslationClient turns a Russian prompt into English before image
// generation. Generation models are trained on English captions; feeding
// them raw Russian degrades output badly.
type TranslationClient interface {
	Translate(ctx context.Context, text string) (string, error)
}

type translationClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client

	maxRetries int
}

func NewTranslationClient(log *logger.Logger) (TranslationClient, error) {
	baseURL := os.Getenv("TRANSLATE_BASE_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("missing TRANSLATE_BASE_URL")
	}
	apiKey := os.Getenv("TRANSLATE_API_KEY")

	model := os.Getenv("TRANSLATE_MODEL")
	if model == "" {
		model = "opus-mt-ru-en"
	}

	timeoutSec := 60
	if v := os.Getenv("TRANSLATE_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	maxRetries := 4
	if v := os.Getenv("TRANSLATE_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &translationClient{
		log:        log.With("service", "TranslationClient"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

type providerHTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *providerHTTPError) Error() string {
	return fmt.Sprintf("%s http %d: %s", e.Provider, e.StatusCode, e.Body)
}

func isRetryableHTTP(code int) bool {
	if code == 408 || code == 429 {
		return true
	}
	if code >= 500 && code <= 599 {
		return true
	}
	return false
}

func isRetryableErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// Caller cancellation is checked in the call loop via ctx.Err();
		// a deadline here means our per-request timeout fired.
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() || netErr.Temporary() {
			return true
		}
	}
	var httpErr *providerHTTPError
	if errors.As(err, &httpErr) {
		return isRetryableHTTP(httpErr.StatusCode)
	}
	return false
}

func jitterSleep(base time.Duration) time.Duration {
	// +/- 20%
	if base <= 0 {
		return 0
	}
	j := 0.2
	delta := base.Seconds() * j
	low := base.Seconds() - delta
	high := base.Seconds() + delta
	if low < 0 {
		low = 0
	}
	v := low + rand.Float64()*(high-low)
	return time.Duration(v * float64(time.Second))
}

// classifyProviderErr wraps the final error of a retry loop so consumers can
// split permanent rejections (bad input, auth) from transient outages.
func classifyProviderErr(provider string, err error) error {
	if err == nil {
		return nil
	}
	permanent := false
	var httpErr *providerHTTPError
	if errors.As(err, &httpErr) && !isRetryableHTTP(httpErr.StatusCode) {
		permanent = true
	}
	return &apperrors.ProviderError{Provider: provider, Permanent: permanent, Err: err}
}

func doProviderRequest(
	ctx context.Context,
	log *logger.Logger,
	httpClient *http.Client,
	provider, method, url, apiKey string,
	body any,
	out any,
	maxRetries int,
) error {
	backoff := 1 * time.Second

	doOnce := func() (*http.Response, []byte, error) {
		var buf bytes.Buffer
		if body != nil {
			if err := json.NewEncoder(&buf).Encode(body); err != nil {
				return nil, nil, err
			}
		}
		req, err := http.NewRequestWithContext(ctx, method, url, &buf)
		if err != nil {
			return nil, nil, err
		}
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, nil, err
		}
		raw, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return resp, nil, readErr
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return resp, raw, &providerHTTPError{Provider: provider, StatusCode: resp.StatusCode, Body: string(raw)}
		}
		return resp, raw, nil
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := doOnce()
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("%s decode error: %w; raw=%s", provider, uErr, string(raw))
			}
			return nil
		}

		if !isRetryableErr(err) {
			return classifyProviderErr(provider, err)
		}
		if attempt == maxRetries {
			return classifyProviderErr(provider, err)
		}

		sleepFor := backoff
		if resp != nil {
			ra := strings.TrimSpace(resp.Header.Get("Retry-After"))
			if ra != "" {
				if secs, parseErr := strconv.Atoi(ra); parseErr == nil && secs > 0 {
					sleepFor = time.Duration(secs) * time.Second
				}
			}
		}
		if sleepFor > 10*time.Second {
			sleepFor = 10 * time.Second
		}
		sleepFor = jitterSleep(sleepFor)

		log.Warn("Provider request retrying",
			"provider", provider,
			"url", url,
			"attempt", attempt+1,
			"max_retries", maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

type translateRequest struct {
	Model      string `json:"model"`
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type translateResponse struct {
	Translation string `json:"translation"`
}

func (c *translationClient) Translate(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty text", apperrors.ErrValidation)
	}
	req := translateRequest{
		Model:      c.model,
		Text:       text,
		SourceLang: "ru",
		TargetLang: "en",
	}
	var resp translateResponse
	err := doProviderRequest(ctx, c.log, c.httpClient, "translate", "POST", c.baseURL+"/v1/translate", c.apiKey, req, &resp, c.maxRetries)
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(resp.Translation)
	if out == "" {
		return "", &apperrors.ProviderError{
			Provider:  "translate",
			Permanent: true,
			Err:       fmt.Errorf("provider returned empty translation"),
		}
	}
	return out, nil
}
