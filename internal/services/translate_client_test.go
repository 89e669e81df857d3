package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	apperrors "github.com/tortodelova/backend/internal/pkg/errors"
)

func TestIsRetryableHTTP(t *testing.T) {
	retryable := []int{408, 429, 500, 502, 503, 599}
	for _, code := range retryable {
		if !isRetryableHTTP(code) {
			t.Fatalf("%d must be retryable", code)
		}
	}
	permanent := []int{400, 401, 403, 404, 422}
	for _, code := range permanent {
		if isRetryableHTTP(code) {
			t.Fatalf("%d must not be retryable", code)
		}
	}
}

func TestClassifyProviderErr(t *testing.T) {
	badRequest := &providerHTTPError{Provider: "imagegen", StatusCode: 400, Body: "bad prompt"}
	err := classifyProviderErr("imagegen", badRequest)
	if !apperrors.IsPermanent(err) {
		t.Fatalf("4xx must classify permanent: %v", err)
	}

	serverErr := &providerHTTPError{Provider: "imagegen", StatusCode: 503, Body: "overloaded"}
	err = classifyProviderErr("imagegen", serverErr)
	var pe *apperrors.ProviderError
	if !errors.As(err, &pe) || pe.Permanent {
		t.Fatalf("5xx must classify transient: %v", err)
	}

	if classifyProviderErr("imagegen", nil) != nil {
		t.Fatalf("nil stays nil")
	}
}

func TestTranslationClientRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"translation":"cherry cake"}`))
	}))
	defer srv.Close()

	t.Setenv("TRANSLATE_BASE_URL", srv.URL)
	t.Setenv("TRANSLATE_MAX_RETRIES", "2")
	client, err := NewTranslationClient(testLogger(t))
	if err != nil {
		t.Fatalf("NewTranslationClient: %v", err)
	}

	out, err := client.Translate(context.Background(), "торт с вишней")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if out != "cherry cake" {
		t.Fatalf("translation: %q", out)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 calls (one retry), got %d", got)
	}
}

func TestTranslationClientPermanentRejection(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"unsupported language"}`))
	}))
	defer srv.Close()

	t.Setenv("TRANSLATE_BASE_URL", srv.URL)
	t.Setenv("TRANSLATE_MAX_RETRIES", "3")
	client, err := NewTranslationClient(testLogger(t))
	if err != nil {
		t.Fatalf("NewTranslationClient: %v", err)
	}

	_, err = client.Translate(context.Background(), "торт")
	if !apperrors.IsPermanent(err) {
		t.Fatalf("400 must surface permanent, got %v", err)
	}
	// Permanent errors must not be retried.
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 call, got %d", got)
	}
}

func TestTranslationClientEmptyTranslation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"translation":"  "}`))
	}))
	defer srv.Close()

	t.Setenv("TRANSLATE_BASE_URL", srv.URL)
	client, err := NewTranslationClient(testLogger(t))
	if err != nil {
		t.Fatalf("NewTranslationClient: %v", err)
	}

	_, err = client.Translate(context.Background(), "торт")
	if !apperrors.IsPermanent(err) {
		t.Fatalf("empty translation must be permanent, got %v", err)
	}
}
