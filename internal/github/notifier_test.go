package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateIssueAndComment(t *testing.T) {
	var paths []string
	var bodies []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPost {
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			bodies = append(bodies, body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"number": 7}`))
	}))
	defer srv.Close()

	n := newNotifier(srv.URL, "acme/tokbot", "tkn")
	ctx := context.Background()

	num, err := n.CreateIssue(ctx, "breaker tripped", "LP_DRAIN at 12:00")
	if err != nil {
		t.Fatal(err)
	}
	if num != 7 {
		t.Fatalf("issue number = %d, want 7", num)
	}
	if err := n.PostComment(ctx, num, "resumed"); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"POST /repos/acme/tokbot/issues",
		"POST /repos/acme/tokbot/issues/7/comments",
	}
	for i, p := range want {
		if paths[i] != p {
			t.Fatalf("path[%d] = %q, want %q", i, paths[i], p)
		}
	}
	if bodies[0]["title"] != "breaker tripped" || bodies[1]["body"] != "resumed" {
		t.Fatalf("payloads = %+v", bodies)
	}
}

func TestReadComments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1,"body":"first"},{"id":2,"body":"second"}]`))
	}))
	defer srv.Close()

	comments, err := newNotifier(srv.URL, "acme/tokbot", "").ReadComments(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 2 || comments[1].Body != "second" {
		t.Fatalf("comments = %+v", comments)
	}
}

func TestErrorStatusSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := newNotifier(srv.URL, "acme/tokbot", "bad").CreateIssue(context.Background(), "t", "b"); err == nil {
		t.Fatal("non-2xx must surface as an error")
	}
}
