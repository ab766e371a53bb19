package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientSendsTokenAndDecodes(t *testing.T) {
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "unauthorized"})
			return
		}
		seen = append(seen, r.Method+" "+r.URL.RequestURI())
		switch {
		case r.URL.Path == "/api/jobs" && r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(JobListResponse{Jobs: []Job{{ID: "abc123", State: "failed"}}})
		case r.URL.Path == "/api/jobs/abc/approve":
			var body DecisionRequest
			_ = json.NewDecoder(r.Body).Decode(&body)
			_ = json.NewEncoder(w).Encode(DecisionResponse{Status: "applied", JobID: "abc123", Message: body.DecidedBy})
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "job not found"})
		}
	}))
	t.Cleanup(server.Close)

	client := NewClient(strings.TrimPrefix(server.URL, "http://"), "secret")
	ctx := context.Background()

	list, err := client.ListJobs(ctx, "failed")
	if err != nil || len(list) != 1 || list[0].ID != "abc123" {
		t.Fatalf("ListJobs: %+v %v", list, err)
	}
	resp, err := client.Approve(ctx, "abc", "cli:sam")
	if err != nil || resp.Status != "applied" || resp.Message != "cli:sam" {
		t.Fatalf("Approve: %+v %v", resp, err)
	}
	_, err = client.GetJob(ctx, "nope")
	if !IsNotFound(err) || err.Error() != "job not found" {
		t.Fatalf("expected not found error, got %v", err)
	}
	if seen[0] != "GET /api/jobs?state=failed" {
		t.Fatalf("unexpected request %q", seen[0])
	}
}

func TestClientReportsUnreachableDaemon(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()

	_, err = NewClient(addr, "").Status(context.Background())
	if !errors.Is(err, ErrDaemonUnavailable) {
		t.Fatalf("expected ErrDaemonUnavailable, got %v", err)
	}
}
