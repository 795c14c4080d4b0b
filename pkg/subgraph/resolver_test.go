package subgraph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordedQuery struct {
	t0, t1 string
}

func newGraphServer(t *testing.T, respond func(q recordedQuery) string, queries *[]recordedQuery) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Variables struct {
				T0 string `json:"t0"`
				T1 string `json:"t1"`
			} `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		q := recordedQuery{t0: req.Variables.T0, t1: req.Variables.T1}
		*queries = append(*queries, q)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(respond(q)))
	}))
}

func TestResolveTriesBothOrderings(t *testing.T) {
	var queries []recordedQuery
	// Only the reversed ordering has a pair.
	srv := newGraphServer(t, func(q recordedQuery) string {
		if q.t0 == "0xbbb" && q.t1 == "0xaaa" {
			return `{"data":{"pairs":[{"id":"0xpool"}]}}`
		}
		return `{"data":{"pairs":[]}}`
	}, &queries)
	defer srv.Close()

	addr, err := NewResolver(srv.URL).Resolve(context.Background(), "0xAAA", "0xBBB")
	if err != nil {
		t.Fatal(err)
	}
	if addr != "0xpool" {
		t.Fatalf("addr = %q, want 0xpool", addr)
	}
	if len(queries) != 2 {
		t.Fatalf("queries = %d, want both orderings tried", len(queries))
	}
	if queries[0].t0 != "0xaaa" || queries[1].t0 != "0xbbb" {
		t.Fatalf("ordering sequence wrong: %+v", queries)
	}
}

func TestResolveNoPairIsNotAnError(t *testing.T) {
	var queries []recordedQuery
	srv := newGraphServer(t, func(recordedQuery) string {
		return `{"data":{"pairs":[]}}`
	}, &queries)
	defer srv.Close()

	addr, err := NewResolver(srv.URL).Resolve(context.Background(), "0xAAA", "0xBBB")
	if err != nil {
		t.Fatal(err)
	}
	if addr != "" {
		t.Fatalf("addr = %q, want empty", addr)
	}
}

func TestResolvePoolPrefersLowestFee(t *testing.T) {
	var queries []recordedQuery
	srv := newGraphServer(t, func(q recordedQuery) string {
		if q.t0 == "0xaaa" {
			return `{"data":{"pools":[{"id":"0xmid","feeTier":"3000"},{"id":"0xlow","feeTier":"500"}]}}`
		}
		return `{"data":{"pools":[{"id":"0xhigh","feeTier":"10000"}]}}`
	}, &queries)
	defer srv.Close()

	addr, err := NewResolver(srv.URL).ResolvePool(context.Background(), "0xAAA", "0xBBB", 0)
	if err != nil {
		t.Fatal(err)
	}
	if addr != "0xlow" {
		t.Fatalf("addr = %q, want the lowest fee tier pool", addr)
	}
}

func TestResolvePoolFeeFilter(t *testing.T) {
	var queries []recordedQuery
	srv := newGraphServer(t, func(recordedQuery) string {
		return `{"data":{"pools":[{"id":"0xmid","feeTier":"3000"},{"id":"0xlow","feeTier":"500"}]}}`
	}, &queries)
	defer srv.Close()

	r := NewResolver(srv.URL)

	// 30 bps maps to tier 3000; the cheaper 500 pool must be skipped.
	addr, err := r.ResolvePool(context.Background(), "0xAAA", "0xBBB", 30)
	if err != nil {
		t.Fatal(err)
	}
	if addr != "0xmid" {
		t.Fatalf("addr = %q, want the 30 bps pool", addr)
	}

	// A tier nothing matches resolves to nothing, not an error.
	addr, err = r.ResolvePool(context.Background(), "0xAAA", "0xBBB", 100)
	if err != nil {
		t.Fatal(err)
	}
	if addr != "" {
		t.Fatalf("addr = %q, want empty for an absent fee tier", addr)
	}
}

func TestResolveCachesAcrossOrderings(t *testing.T) {
	var queries []recordedQuery
	srv := newGraphServer(t, func(recordedQuery) string {
		return `{"data":{"pairs":[{"id":"0xpool"}]}}`
	}, &queries)
	defer srv.Close()

	r := NewResolver(srv.URL)
	if _, err := r.Resolve(context.Background(), "0xAAA", "0xBBB"); err != nil {
		t.Fatal(err)
	}
	hits := len(queries)

	// Second lookup, reversed tokens: served from cache, no new queries.
	addr, err := r.Resolve(context.Background(), "0xBBB", "0xAAA")
	if err != nil {
		t.Fatal(err)
	}
	if addr != "0xpool" {
		t.Fatalf("addr = %q, want 0xpool", addr)
	}
	if len(queries) != hits {
		t.Fatalf("queries grew to %d, want cached answer", len(queries))
	}
}

func TestResolveSurfacesGraphErrors(t *testing.T) {
	var queries []recordedQuery
	srv := newGraphServer(t, func(recordedQuery) string {
		return `{"errors":[{"message":"rate limited"}]}`
	}, &queries)
	defer srv.Close()

	if _, err := NewResolver(srv.URL).Resolve(context.Background(), "a", "b"); err == nil {
		t.Fatal("graph-level errors must surface")
	}
}
