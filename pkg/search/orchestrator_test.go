package search

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/pkg/alias"
	"github.com/quarrylabs/quarry/pkg/config"
	"github.com/quarrylabs/quarry/pkg/layout"
	"github.com/quarrylabs/quarry/pkg/tracker"
	"github.com/quarrylabs/quarry/pkg/types"
)

type fakeSearcher struct {
	mu      sync.Mutex
	results map[string][]Result
	errs    map[string]error
	delays  map[string]time.Duration
}

func (f *fakeSearcher) Search(ctx context.Context, dir string, req *Request) ([]Result, error) {
	f.mu.Lock()
	delay := f.delays[dir]
	results := f.results[dir]
	err := f.errs[dir]
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return results, err
}

type fixture struct {
	orch    *Orchestrator
	aliases *alias.Manager
	refs    *tracker.Tracker
	fake    *fakeSearcher
	lay     layout.Layout
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	lay := layout.New(t.TempDir())
	require.NoError(t, lay.EnsureDirs())

	aliases, err := alias.NewManager(lay.AliasesDir())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Root = lay.Root

	refs := tracker.New()
	fake := &fakeSearcher{
		results: make(map[string][]Result),
		errs:    make(map[string]error),
		delays:  make(map[string]time.Duration),
	}
	return &fixture{
		orch:    New(aliases, refs, fake, cfg),
		aliases: aliases,
		refs:    refs,
		fake:    fake,
		lay:     lay,
	}
}

// addRepo publishes a fake snapshot with the given index evidence and an
// alias pointing at it.
func (f *fixture) addRepo(t *testing.T, name string, evidence ...string) string {
	t.Helper()

	dir := f.lay.VersionPath(name, time.Now().Unix())
	for _, e := range evidence {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, layout.IndexDir, e), 0755))
	}
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, f.aliases.Create(types.GlobalAlias(name), dir, name))
	return dir
}

func TestSearchGroupsResultsByRepo(t *testing.T) {
	f := newFixture(t)
	webDir := f.addRepo(t, "webapp", "index")
	apiDir := f.addRepo(t, "api", "index")

	f.fake.results[webDir] = []Result{{FilePath: "main.go", Line: 10, Score: 0.9}}
	f.fake.results[apiDir] = []Result{{FilePath: "server.go", Line: 3, Score: 0.7}}

	resp, err := f.orch.Search(context.Background(), &Request{
		Repositories: []string{"webapp-global", "api"},
		Query:        "handler",
		SearchType:   TypeSemantic,
	})
	require.NoError(t, err)

	require.Len(t, resp.ResultsByRepo, 2)
	assert.Equal(t, "webapp", resp.ResultsByRepo["webapp"][0].Repo)
	assert.Equal(t, 2, resp.Metadata.TotalResults)
	assert.Equal(t, 2, resp.Metadata.ReposSearched)
	assert.Equal(t, 2, resp.Metadata.ReposWithResults)
	assert.Empty(t, resp.Errors)
	assert.Empty(t, resp.Skipped)

	assert.Zero(t, f.refs.RefCount(webDir), "refs must be released after the search")
	assert.Zero(t, f.refs.RefCount(apiDir))
}

func TestSearchPartialFailure(t *testing.T) {
	f := newFixture(t)
	okDir := f.addRepo(t, "healthy", "index")
	badDir := f.addRepo(t, "broken", "index")

	f.fake.results[okDir] = []Result{{FilePath: "a.go", Score: 0.5}}
	f.fake.errs[badDir] = errors.New("index file corrupt")

	resp, err := f.orch.Search(context.Background(), &Request{
		Repositories: []string{"healthy", "broken"},
		Query:        "q",
	})
	require.NoError(t, err)

	assert.Len(t, resp.ResultsByRepo["healthy"], 1)
	assert.Contains(t, resp.Errors["broken"], "index file corrupt")
	assert.Equal(t, 2, resp.Metadata.ReposSearched)
	assert.Equal(t, 1, resp.Metadata.ReposWithResults)
}

func TestSearchPerRepoTimeout(t *testing.T) {
	f := newFixture(t)
	slowDir := f.addRepo(t, "slow", "index")
	fastDir := f.addRepo(t, "fast", "index")

	f.fake.delays[slowDir] = 1500 * time.Millisecond
	f.fake.results[fastDir] = []Result{{FilePath: "b.go", Score: 0.4}}

	resp, err := f.orch.Search(context.Background(), &Request{
		Repositories:   []string{"slow", "fast"},
		Query:          "q",
		TimeoutSeconds: 1,
	})
	require.NoError(t, err)

	assert.Contains(t, resp.Errors["slow"], "timed out after 1 s")
	assert.Len(t, resp.ResultsByRepo["fast"], 1)

	// The abandoned worker finishes on its own schedule and releases its
	// ref then.
	assert.Eventually(t, func() bool {
		return f.refs.RefCount(slowDir) == 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestSearchSkipsMissingIndexKind(t *testing.T) {
	f := newFixture(t)
	dir := f.addRepo(t, "semantic-only", "index")
	f.fake.results[dir] = []Result{{FilePath: "x.go"}}

	resp, err := f.orch.Search(context.Background(), &Request{
		Repositories: []string{"semantic-only"},
		Query:        "q",
		SearchType:   TypeFTS,
	})
	require.NoError(t, err)

	assert.Equal(t, "no full-text index", resp.Skipped["semantic-only"])
	assert.Empty(t, resp.ResultsByRepo)
	assert.Equal(t, 0, resp.Metadata.ReposSearched)
}

func TestSearchSuggestsCloseAliases(t *testing.T) {
	f := newFixture(t)
	f.addRepo(t, "webapp", "index")
	f.addRepo(t, "webhooks", "index")

	resp, err := f.orch.Search(context.Background(), &Request{
		Repositories: []string{"webaap-global"},
		Query:        "q",
	})
	require.NoError(t, err)

	suggestions := resp.Suggestions["webaap-global"]
	require.NotEmpty(t, suggestions)
	assert.Equal(t, "webapp-global", suggestions[0])
}

func TestSearchFlatFormat(t *testing.T) {
	f := newFixture(t)
	aDir := f.addRepo(t, "alpha", "index")
	bDir := f.addRepo(t, "beta", "index")

	f.fake.results[aDir] = []Result{{FilePath: "low.go", Score: 0.2}, {FilePath: "high.go", Score: 0.9}}
	f.fake.results[bDir] = []Result{{FilePath: "mid.go", Score: 0.5}}

	resp, err := f.orch.Search(context.Background(), &Request{
		Repositories:   []string{"alpha", "beta"},
		Query:          "q",
		Limit:          2,
		ResponseFormat: FormatFlat,
	})
	require.NoError(t, err)

	assert.Nil(t, resp.ResultsByRepo)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "high.go", resp.Results[0].FilePath)
	assert.Equal(t, "mid.go", resp.Results[1].FilePath)
	assert.Equal(t, 3, resp.Metadata.TotalResults)
}

func TestSearchRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Search(context.Background(), &Request{Repositories: []string{"x"}})
	assert.Error(t, err)

	_, err = f.orch.Search(context.Background(), &Request{Query: "q"})
	assert.Error(t, err)
}
