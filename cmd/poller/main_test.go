package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func schedulerEnv(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	t.Setenv("SCHEDULER_BASE_URL", server.URL)
	t.Setenv("SCHEDULER_URL_STYLE", "slots")
	t.Setenv("FETCH_MAX_ATTEMPTS", "2")
	t.Setenv("FETCH_RETRY_INTERVAL", "1ms")
	t.Setenv("POLL_PACE_INTERVAL", "0s")
}

func TestRun_ExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantCode int
		wantOut  string
	}{
		{
			name: "quiet",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`[]`))
			},
			wantCode: 0,
		},
		{
			name: "notified",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("locationId") == "5027" {
					_, _ = w.Write([]byte(`[{"locationId":5027,"startTimestamp":"2022-02-01T09:00","active":true}]`))
					return
				}
				_, _ = w.Write([]byte(`[]`))
			},
			wantCode: 0,
			wantOut:  "Toronto Enrollment Center at Tuesday, February 01, 2022 at 09:00 AM",
		},
		{
			name: "fetch failure",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			wantCode: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schedulerEnv(t, tt.handler)

			var stdout, stderr bytes.Buffer
			code := run(context.Background(), []string{"-test"}, &stdout, &stderr)

			assert.Equal(t, tt.wantCode, code, stderr.String())
			if tt.wantOut != "" {
				assert.Contains(t, stdout.String(), tt.wantOut)
			} else {
				assert.Empty(t, stdout.String())
			}
		})
	}
}

func TestRun_TestModeIgnoresChannelCredentials(t *testing.T) {
	schedulerEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	t.Setenv("NOTIFIER", "twitter")

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run(context.Background(), []string{"-test"}, &stdout, &stderr), stderr.String())
	assert.Equal(t, 1, run(context.Background(), nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "CONSUMER_KEY")
}

func TestRun_InvalidConfiguration(t *testing.T) {
	t.Setenv("FILTER_POLICY", "sometimes")

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run(context.Background(), nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "failed to load configuration")
}

func TestRun_UnknownFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(context.Background(), []string{"-nope"}, &stdout, &stderr))
}
