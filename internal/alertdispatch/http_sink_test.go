package alertdispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/merrymaker/scanner/config"
)

func TestHTTPSink_SendUsesFixedSummaryDetailsContract(t *testing.T) {
	var gotSummary, gotDetails string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSummary = r.URL.Query().Get("summary")
		gotDetails = r.URL.Query().Get("details")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewHTTPSink(config.HTTPSinkConfig{Enabled: true, URL: server.URL})
	outcome, err := sink.Send(context.Background(), Event{
		Rule:        "unknown_domain",
		Severity:    "high",
		Description: "host evil.example.com is an unknown domain",
		CreatedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeSuccess {
		t.Fatalf("expected OutcomeSuccess, got %v", outcome)
	}
	if gotSummary == "" || gotDetails == "" {
		t.Fatalf("expected summary and details to be set, got summary=%q details=%q", gotSummary, gotDetails)
	}
}

func TestHTTPSink_DetailsExprOverridesDescription(t *testing.T) {
	var gotDetails string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDetails = r.URL.Query().Get("details")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewHTTPSink(config.HTTPSinkConfig{
		Enabled:     true,
		URL:         server.URL,
		DetailsExpr: "rule",
	})
	_, err := sink.Send(context.Background(), Event{
		Rule:        "unknown_domain",
		Description: "host evil.example.com is an unknown domain",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotDetails != "unknown_domain" {
		t.Fatalf("expected DetailsExpr to override details, got %q", gotDetails)
	}
}

func TestHTTPSink_InvalidDetailsExprFallsBackToDescription(t *testing.T) {
	var gotDetails string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDetails = r.URL.Query().Get("details")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewHTTPSink(config.HTTPSinkConfig{
		Enabled:     true,
		URL:         server.URL,
		DetailsExpr: "(((invalid",
	})
	_, err := sink.Send(context.Background(), Event{
		Description: "fallback description",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotDetails != "fallback description" {
		t.Fatalf("expected fallback to event description, got %q", gotDetails)
	}
}

func TestHTTPSink_ClassifiesResponsesByStatus(t *testing.T) {
	tests := []struct {
		status  int
		outcome Outcome
	}{
		{http.StatusOK, OutcomeSuccess},
		{http.StatusBadRequest, OutcomeFatal},
		{http.StatusInternalServerError, OutcomeRetryable},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		sink := NewHTTPSink(config.HTTPSinkConfig{Enabled: true, URL: server.URL})
		outcome, _ := sink.Send(context.Background(), Event{Rule: "r", Severity: "s"})
		if outcome != tt.outcome {
			t.Fatalf("status %d: expected outcome %v, got %v", tt.status, tt.outcome, outcome)
		}
		server.Close()
	}
}
