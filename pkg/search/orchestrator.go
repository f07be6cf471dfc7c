package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/quarrylabs/quarry/pkg/alias"
	"github.com/quarrylabs/quarry/pkg/config"
	"github.com/quarrylabs/quarry/pkg/indexer"
	"github.com/quarrylabs/quarry/pkg/log"
	"github.com/quarrylabs/quarry/pkg/metrics"
	"github.com/quarrylabs/quarry/pkg/tracker"
	"github.com/quarrylabs/quarry/pkg/types"
)

// Orchestrator fans one query out over many repositories with a small bounded
// worker pool. Searches are I/O and CPU heavy external invocations, so the
// pool stays deliberately narrow.
type Orchestrator struct {
	aliases  *alias.Manager
	refs     *tracker.Tracker
	searcher Searcher
	cfg      *config.Config
	logger   zerolog.Logger
}

// New wires an orchestrator from its collaborators.
func New(aliases *alias.Manager, refs *tracker.Tracker, searcher Searcher, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		aliases:  aliases,
		refs:     refs,
		searcher: searcher,
		cfg:      cfg,
		logger:   log.WithComponent("search"),
	}
}

type target struct {
	repo string
	dir  string
}

// Search runs one cross-repository request. Unresolvable names produce
// suggestions, repositories missing the requested index are skipped, and a
// failing or slow repository lands in Errors without affecting the others.
func (o *Orchestrator) Search(ctx context.Context, req *Request) (*Response, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if len(req.Repositories) == 0 {
		return nil, fmt.Errorf("at least one repository is required")
	}
	if req.SearchType == "" {
		req.SearchType = TypeSemantic
	}

	metrics.SearchRequestsTotal.Inc()
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SearchDuration)
	started := time.Now()

	resp := &Response{
		ResultsByRepo: make(map[string][]Result),
		Skipped:       make(map[string]string),
		Errors:        make(map[string]string),
		Suggestions:   make(map[string][]string),
	}

	targets := o.resolve(req, resp)

	timeout := o.cfg.MultiSearchTimeout()
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(o.cfg.MultiSearchMaxWorkers)

	for _, tgt := range targets {
		tgt := tgt
		g.Go(func() error {
			results, err := o.searchOne(ctx, tgt, req, timeout)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				resp.Errors[tgt.repo] = err.Error()
				return nil
			}
			resp.ResultsByRepo[tgt.repo] = results
			return nil
		})
	}
	g.Wait()

	o.finalize(req, resp, len(targets), started)
	return resp, nil
}

// resolve maps request names to snapshot directories, filling Suggestions for
// unknown names and Skipped for repositories without the requested index.
func (o *Orchestrator) resolve(req *Request, resp *Response) []target {
	var targets []target
	for _, name := range req.Repositories {
		rec, err := o.aliases.Read(name)
		if errors.Is(err, alias.ErrNotFound) {
			// Bare repository names are a convenience; retry as an alias.
			rec, err = o.aliases.Read(types.GlobalAlias(name))
		}
		if err != nil {
			if errors.Is(err, alias.ErrNotFound) {
				resp.Suggestions[name] = o.suggest(name)
			} else {
				resp.Errors[name] = err.Error()
				metrics.SearchRepoErrorsTotal.WithLabelValues("resolve").Inc()
			}
			continue
		}

		if reason, ok := missingIndex(rec.TargetPath, req.SearchType); ok {
			resp.Skipped[rec.RepoName] = reason
			continue
		}
		targets = append(targets, target{repo: rec.RepoName, dir: rec.TargetPath})
	}
	return targets
}

// searchOne runs a single repository search under the per-repository timeout.
// The reader ref is held for as long as the underlying search actually runs:
// a timeout reclaims the result slot but never interrupts the worker, which
// releases the ref itself on completion.
func (o *Orchestrator) searchOne(ctx context.Context, tgt target, req *Request, timeout time.Duration) ([]Result, error) {
	type outcome struct {
		results []Result
		err     error
	}
	done := make(chan outcome, 1)

	o.refs.Increment(tgt.dir)
	go func() {
		defer o.refs.Decrement(tgt.dir)
		results, err := o.searcher.Search(ctx, tgt.dir, req)
		for i := range results {
			results[i].Repo = tgt.repo
		}
		done <- outcome{results: results, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			metrics.SearchRepoErrorsTotal.WithLabelValues("search").Inc()
			o.logger.Warn().Err(out.err).Str("repo", tgt.repo).Msg("repository search failed")
			return nil, out.err
		}
		return out.results, nil
	case <-time.After(timeout):
		metrics.SearchRepoErrorsTotal.WithLabelValues("timeout").Inc()
		o.logger.Warn().Str("repo", tgt.repo).Dur("timeout", timeout).Msg("repository search timed out")
		return nil, fmt.Errorf("timed out after %d s", int(timeout.Seconds()))
	}
}

// finalize computes metadata and applies the requested response format.
func (o *Orchestrator) finalize(req *Request, resp *Response, searched int, started time.Time) {
	total := 0
	withResults := 0
	for _, results := range resp.ResultsByRepo {
		total += len(results)
		if len(results) > 0 {
			withResults++
		}
	}
	resp.Metadata = Metadata{
		TotalResults:     total,
		ReposSearched:    searched,
		ReposWithResults: withResults,
		ExecutionTimeMS:  time.Since(started).Milliseconds(),
	}

	if req.ResponseFormat != FormatFlat {
		return
	}
	flat := make([]Result, 0, total)
	for _, results := range resp.ResultsByRepo {
		flat = append(flat, results...)
	}
	sort.SliceStable(flat, func(i, j int) bool { return flat[i].Score > flat[j].Score })
	if req.Limit > 0 && len(flat) > req.Limit {
		flat = flat[:req.Limit]
	}
	resp.Results = flat
	resp.ResultsByRepo = nil
}

// missingIndex reports whether the snapshot lacks the index the request
// needs, with a human-readable reason.
func missingIndex(dir string, st Type) (string, bool) {
	switch st {
	case TypeSemantic:
		if !indexer.HasSemanticIndex(dir) {
			return "no semantic index", true
		}
	case TypeFTS:
		if !indexer.HasFTSIndex(dir) {
			return "no full-text index", true
		}
	case TypeTemporal:
		if !indexer.HasTemporalIndex(dir) {
			return "no commit-history index", true
		}
	case TypeScip:
		if !indexer.HasScipIndex(dir) {
			return "no scip index", true
		}
	default:
		return fmt.Sprintf("unknown search type %q", st), true
	}
	return "", false
}
