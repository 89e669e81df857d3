package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tortodelova/backend/internal/logger"
	apperrors "github.com/tortodelova/backend/internal/pkg/errors"
)

// ImageGenClient renders an English prompt into PNG bytes via the diffusion
// inference endpoint.
type ImageGenClient interface {
	Generate(ctx context.Context, prompt string, engine string) ([]byte, error)
}

type imageGenClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	engine     string
	steps      int
	guidance   float64
	width      int
	height     int
	httpClient *http.Client

	maxRetries int
}

func NewImageGenClient(log *logger.Logger) (ImageGenClient, error) {
	baseURL := os.Getenv("IMAGEGEN_BASE_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("missing IMAGEGEN_BASE_URL")
	}
	apiKey := os.Getenv("IMAGEGEN_API_KEY")

	engine := os.Getenv("IMAGEGEN_ENGINE")
	if engine == "" {
		engine = "dreamshaper-v8"
	}

	// IMPORTANT: default timeout higher for diffusion workloads
	timeoutSec := 300
	if v := os.Getenv("IMAGEGEN_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	maxRetries := 4
	if v := os.Getenv("IMAGEGEN_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	steps := 30
	if v := os.Getenv("IMAGEGEN_STEPS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			steps = parsed
		}
	}

	return &imageGenClient{
		log:        log.With("service", "ImageGenClient"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		engine:     engine,
		steps:      steps,
		guidance:   7.5,
		width:      512,
		height:     512,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

type imageGenRequest struct {
	Engine        string  `json:"engine"`
	Prompt        string  `json:"prompt"`
	Steps         int     `json:"steps"`
	GuidanceScale float64 `json:"guidance_scale"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	OutputFormat  string  `json:"output_format"`
}

type imageGenResponse struct {
	ImageBase64 string `json:"image_base64"`
}

func (c *imageGenClient) Generate(ctx context.Context, prompt string, engine string) ([]byte, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", apperrors.ErrValidation)
	}
	if engine == "" {
		engine = c.engine
	}
	req := imageGenRequest{
		Engine:        engine,
		Prompt:        prompt,
		Steps:         c.steps,
		GuidanceScale: c.guidance,
		Width:         c.width,
		Height:        c.height,
		OutputFormat:  "png",
	}
	var resp imageGenResponse
	err := doProviderRequest(ctx, c.log, c.httpClient, "imagegen", "POST", c.baseURL+"/v1/images/generate", c.apiKey, req, &resp, c.maxRetries)
	if err != nil {
		return nil, err
	}
	raw, decErr := base64.StdEncoding.DecodeString(resp.ImageBase64)
	if decErr != nil {
		return nil, &apperrors.ProviderError{
			Provider:  "imagegen",
			Permanent: true,
			Err:       fmt.Errorf("failed to decode image payload: %w", decErr),
		}
	}
	if len(raw) == 0 {
		return nil, &apperrors.ProviderError{
			Provider:  "imagegen",
			Permanent: true,
			Err:       fmt.Errorf("provider returned empty image"),
		}
	}
	return raw, nil
}
