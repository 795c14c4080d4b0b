// Package subgraph resolves pair/pool addresses through a Graph-style
// indexing API. Core semantics stay narrow on purpose: a lookup returns an
// address or nothing, with both token orderings tried and the lowest fee
// tier preferred on ties.
package subgraph

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/Poom5741/tok-tradingbot/pkg/cache"
	"github.com/Poom5741/tok-tradingbot/pkg/ratelimit"
)

// Resolver queries one subgraph endpoint. Queries run through a sliding
// window limiter to stay inside hosted-service quotas; resolved addresses
// are cached so repeated chat lookups don't burn quota.
type Resolver struct {
	http    *resty.Client
	limiter ratelimit.Limiter
	cache   *cache.AddressCache
}

func NewResolver(endpoint string) *Resolver {
	return &Resolver{
		http: resty.New().
			SetBaseURL(strings.TrimSuffix(endpoint, "/")).
			SetTimeout(30 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(time.Second),
		limiter: ratelimit.NewSlidingWindow(30, time.Minute),
		cache:   cache.NewAddressCache(),
	}
}

type graphRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type pairResult struct {
	Data struct {
		Pairs []struct {
			ID string `json:"id"`
		} `json:"pairs"`
		Pools []struct {
			ID      string `json:"id"`
			FeeTier string `json:"feeTier"`
		} `json:"pools"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

const pairQuery = `query ($t0: String!, $t1: String!) {
  pairs(where: {token0: $t0, token1: $t1}, first: 1) { id }
}`

const poolQuery = `query ($t0: String!, $t1: String!) {
  pools(where: {token0: $t0, token1: $t1}, first: 5, orderBy: feeTier) { id feeTier }
}`

// Resolve finds a constant-product pair for the token combination, trying
// both orderings. Returns "" when no pair exists.
func (r *Resolver) Resolve(ctx context.Context, token0, token1 string) (string, error) {
	key := cacheKey("pair", token0, token1)
	if addr, ok := r.cache.Get(key); ok {
		return addr, nil
	}
	for _, pair := range orderings(token0, token1) {
		res, err := r.query(ctx, pairQuery, pair[0], pair[1])
		if err != nil {
			return "", err
		}
		if len(res.Data.Pairs) > 0 {
			addr := res.Data.Pairs[0].ID
			r.cache.Set(key, addr)
			return addr, nil
		}
	}
	return "", nil
}

// ResolvePool finds a fee-tiered pool for the token combination. Both
// orderings are tried; among candidates the lowest fee tier wins. A nonzero
// feeBps restricts the lookup to that tier (the index stores tiers in
// hundredths of a bip, so 30 bps matches tier 3000).
func (r *Resolver) ResolvePool(ctx context.Context, token0, token1 string, feeBps int64) (string, error) {
	key := cacheKey("pool:"+strconv.FormatInt(feeBps, 10), token0, token1)
	if addr, ok := r.cache.Get(key); ok {
		return addr, nil
	}

	type candidate struct {
		id  string
		fee int64
	}
	var candidates []candidate

	for _, pair := range orderings(token0, token1) {
		res, err := r.query(ctx, poolQuery, pair[0], pair[1])
		if err != nil {
			return "", err
		}
		for _, p := range res.Data.Pools {
			fee, err := strconv.ParseInt(p.FeeTier, 10, 64)
			if err != nil {
				continue
			}
			if feeBps > 0 && fee != feeBps*100 {
				continue
			}
			candidates = append(candidates, candidate{id: p.ID, fee: fee})
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].fee != candidates[j].fee {
			return candidates[i].fee < candidates[j].fee
		}
		return candidates[i].id < candidates[j].id
	})
	r.cache.Set(key, candidates[0].id)
	return candidates[0].id, nil
}

func (r *Resolver) query(ctx context.Context, query, t0, t1 string) (*pairResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "subgraph rate limit")
	}

	var out pairResult
	resp, err := r.http.R().
		SetContext(ctx).
		SetBody(graphRequest{
			Query: query,
			Variables: map[string]interface{}{
				"t0": strings.ToLower(t0),
				"t1": strings.ToLower(t1),
			},
		}).
		SetResult(&out).
		Post("")
	if err != nil {
		return nil, errors.Wrap(err, "subgraph query")
	}
	if !resp.IsSuccess() {
		return nil, errors.Errorf("subgraph http %d", resp.StatusCode())
	}
	if len(out.Errors) > 0 {
		return nil, errors.Errorf("subgraph error: %s", out.Errors[0].Message)
	}
	return &out, nil
}

func orderings(a, b string) [2][2]string {
	return [2][2]string{{a, b}, {b, a}}
}

// cacheKey normalizes token order so both orderings share one entry.
func cacheKey(kind, a, b string) string {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if b < a {
		a, b = b, a
	}
	return kind + ":" + a + ":" + b
}
