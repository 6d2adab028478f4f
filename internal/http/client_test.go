// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	stdhttp "net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/wneessen/oncf-ar/internal/logger"
	"github.com/wneessen/oncf-ar/internal/testhelper"
)

type testType struct {
	String string  `json:"string"`
	Int    int     `json:"int"`
	Float  float64 `json:"float"`
	Bool   bool    `json:"bool"`
}

const testFile = "../../testdata/testtype.json"

func TestNew(t *testing.T) {
	client := New(logger.New(slog.LevelInfo))
	if client == nil {
		t.Fatal("expected client to be non-nil")
	}
}

func TestClient_PostWithTimeout(t *testing.T) {
	t.Run("posting and serializing JSON should work", func(t *testing.T) {
		rtFn := func(req *stdhttp.Request) (*stdhttp.Response, error) {
			if req.Method != stdhttp.MethodPost {
				t.Errorf("expected POST request, got %s", req.Method)
			}
			if req.Header.Get("User-Agent") != UserAgent {
				t.Errorf("expected user agent %q, got %q", UserAgent, req.Header.Get("User-Agent"))
			}
			if req.Header.Get("X-Custom-Header") != "custom-value" {
				t.Error("expected custom header to be set")
			}
			data, err := os.Open(testFile)
			if err != nil {
				t.Fatalf("failed to open JSON response file: %s", err)
			}

			return &stdhttp.Response{
				StatusCode: 200,
				Body:       data,
				Header:     make(stdhttp.Header),
			}, nil
		}

		client := New(logger.New(slog.LevelInfo))
		client.Transport = testhelper.MockRoundTripper{Fn: rtFn}
		headers := make(map[string]string)
		headers["X-Custom-Header"] = "custom-value"

		target := new(testType)
		response, err := client.PostWithTimeout(t.Context(), "https://example.com", target, nil, headers,
			DefaultTimeout)
		if err != nil {
			t.Fatalf("post request failed: %s", err)
		}

		if response != 200 {
			t.Errorf("expected status code 200, got %d", response)
		}
		if target.String != "test" {
			t.Errorf("expected target string to be 'test', got %s", target.String)
		}
		if target.Int != 123 {
			t.Errorf("expected target int to be 123, got %d", target.Int)
		}
		if target.Float != 123.456 {
			t.Errorf("expected target float to be 123.456, got %f", target.Float)
		}
		if !target.Bool {
			t.Error("expected target bool to be true")
		}
	})
	t.Run("unmarshalling into non-pointer should fail", func(t *testing.T) {
		client := New(logger.New(slog.LevelInfo))
		var target testType
		_, err := client.PostWithTimeout(t.Context(), "https://example.com", target, nil, nil, DefaultTimeout)
		if !errors.Is(err, ErrNonPointerTarget) {
			t.Errorf("expected error to be %s, got %v", ErrNonPointerTarget, err)
		}
	})
	t.Run("creating a request with an invalid url should fail", func(t *testing.T) {
		client := New(logger.New(slog.LevelInfo))
		target := new(testType)
		_, err := client.PostWithTimeout(t.Context(), "http://example.com/xyz%", target, nil, nil, DefaultTimeout)
		if err == nil {
			t.Fatal("expected post to fail")
		}
		if !strings.Contains(err.Error(), "failed create new HTTP request") {
			t.Errorf("unexpected error: %s", err)
		}
	})
	t.Run("post request fails", func(t *testing.T) {
		rtFn := func(req *stdhttp.Request) (*stdhttp.Response, error) {
			return nil, errors.New("intentionally failing")
		}

		client := New(logger.New(slog.LevelInfo))
		client.Transport = testhelper.MockRoundTripper{Fn: rtFn}

		target := new(testType)
		_, err := client.PostWithTimeout(t.Context(), "https://example.com", target, nil, nil, DefaultTimeout)
		if err == nil {
			t.Fatal("expected post request to fail")
		}
	})
	t.Run("unreadable response body", func(t *testing.T) {
		rtFn := func(req *stdhttp.Request) (*stdhttp.Response, error) {
			return &stdhttp.Response{
				StatusCode: 200,
				Body:       &failReadCloser{},
				Header:     make(stdhttp.Header),
			}, nil
		}

		client := New(logger.NewLogger(slog.LevelInfo, io.Discard))
		client.Transport = testhelper.MockRoundTripper{Fn: rtFn}

		target := new(testType)
		_, err := client.PostWithTimeout(t.Context(), "https://example.com", target, nil, nil, DefaultTimeout)
		if err == nil {
			t.Fatal("expected post request to fail")
		}
	})
	t.Run("post request times out", func(t *testing.T) {
		client := New(logger.New(slog.LevelInfo))

		target := new(testType)
		_, err := client.PostWithTimeout(t.Context(), testhelper.TestOnlineAPIURL, target, nil, nil, time.Nanosecond)
		if err == nil {
			t.Fatal("expected post request to timeout")
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected error to be %s, got %s", context.DeadlineExceeded, err)
		}
	})
}

func TestClient_PostJSON(t *testing.T) {
	t.Run("payload is encoded as JSON", func(t *testing.T) {
		rtFn := func(req *stdhttp.Request) (*stdhttp.Response, error) {
			if req.Header.Get("Content-Type") != "application/json" {
				t.Errorf("expected JSON content type, got %q", req.Header.Get("Content-Type"))
			}
			var payload testType
			if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
				t.Errorf("failed to decode request body: %s", err)
			}
			if payload.String != "station" {
				t.Errorf("expected payload string to be 'station', got %s", payload.String)
			}
			return &stdhttp.Response{
				StatusCode: 200,
				Body:       io.NopCloser(strings.NewReader(`{"int":42}`)),
				Header:     make(stdhttp.Header),
			}, nil
		}
		client := New(logger.NewLogger(slog.LevelInfo, io.Discard))
		client.Transport = testhelper.MockRoundTripper{Fn: rtFn}

		target := new(testType)
		if _, err := client.PostJSON(t.Context(), "https://example.com", testType{String: "station"}, target,
			time.Second); err != nil {
			t.Fatalf("post request failed: %s", err)
		}
		if target.Int != 42 {
			t.Errorf("expected target int to be 42, got %d", target.Int)
		}
	})
	t.Run("unencodable payload fails", func(t *testing.T) {
		client := New(logger.NewLogger(slog.LevelInfo, io.Discard))
		_, err := client.PostJSON(t.Context(), "https://example.com", func() {}, new(testType), time.Second)
		if err == nil {
			t.Fatal("expected post request to fail")
		}
	})
}

func TestClient_StatusError(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		status  string
		body    string
		message string
	}{
		{"plain error message", 429, "429 Too Many Requests", `{"error":"rate limited"}`, "rate limited"},
		{
			"geolocate error object", 404, "404 Not Found",
			`{"error":{"errors":[{"domain":"geolocation","reason":"notFound"}],"code":404,"message":"Not found"}}`,
			"Not found",
		},
		{"body without error", 500, "500 Internal Server Error", `oops`, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rtFn := func(req *stdhttp.Request) (*stdhttp.Response, error) {
				return &stdhttp.Response{
					StatusCode: tc.code,
					Status:     tc.status,
					Body:       io.NopCloser(strings.NewReader(tc.body)),
					Header:     make(stdhttp.Header),
				}, nil
			}
			client := New(logger.NewLogger(slog.LevelInfo, io.Discard))
			client.Transport = testhelper.MockRoundTripper{Fn: rtFn}

			status, err := client.PostWithTimeout(t.Context(), "https://example.com", new(testType), nil, nil,
				DefaultTimeout)
			if status != tc.code {
				t.Errorf("expected status code %d, got %d", tc.code, status)
			}
			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("expected status error, got %v", err)
			}
			if statusErr.Code != tc.code {
				t.Errorf("expected error code %d, got %d", tc.code, statusErr.Code)
			}
			if statusErr.Message != tc.message {
				t.Errorf("expected error message %q, got %q", tc.message, statusErr.Message)
			}
			if !strings.Contains(err.Error(), tc.status) {
				t.Errorf("expected error to contain status, got %s", err)
			}
		})
	}
}

type failReadCloser struct{}

func (failReadCloser) Read(p []byte) (int, error) { return len(p), nil }
func (failReadCloser) Close() error               { return errors.New("failed to close") }
