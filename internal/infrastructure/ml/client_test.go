package ml

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"ReviewHarvester/internal/config"
	"ReviewHarvester/internal/retry"
)

func newTestClient(url string) *Client {
	return NewClient(config.ClassifierConfig{
		Provider: config.ProviderInference,
		Endpoint: url + "/",
		APIKey:   "token",
		Timeout:  time.Second,
		Retry:    retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond},
	}, nil)
}

func TestClientClassify(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/classify" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("missing bearer token")
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["text"] != "dor nas costas melhorou" {
			t.Errorf("unexpected text %q", body["text"])
		}
		_, _ = w.Write([]byte(`{"labels":["Dores"],"confidence":0.66,"rationale":"menciona dor"}`))
	}))
	defer server.Close()

	got, err := newTestClient(server.URL).Classify(context.Background(), "dor nas costas melhorou")
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if !reflect.DeepEqual(got.Labels, []string{"Dores"}) || got.Confidence != 0.66 || got.Rationale != "menciona dor" {
		t.Fatalf("unexpected classification %+v", got)
	}
}

func TestClientRetriesOnlyServerErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		calls  int32
	}{
		{name: "server error", status: http.StatusBadGateway, calls: 2},
		{name: "bad request", status: http.StatusBadRequest, calls: 1},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			if _, err := newTestClient(server.URL).Classify(context.Background(), "x"); err == nil {
				t.Fatalf("expected error")
			}
			if got := atomic.LoadInt32(&calls); got != tc.calls {
				t.Fatalf("expected %d calls, got %d", tc.calls, got)
			}
		})
	}
}
