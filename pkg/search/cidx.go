package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ExecSearcher runs queries through the external indexing CLI, one process
// per repository. It is the default Searcher implementation.
type ExecSearcher struct {
	bin     string
	timeout time.Duration
}

// NewExecSearcher creates a searcher invoking the given binary. The timeout
// is a hard ceiling per invocation, independent of the orchestrator's result
// slot timeout.
func NewExecSearcher(bin string, timeout time.Duration) *ExecSearcher {
	if bin == "" {
		bin = "cidx"
	}
	return &ExecSearcher{bin: bin, timeout: timeout}
}

type execResult struct {
	FilePath string  `json:"file_path"`
	Line     int     `json:"line"`
	Score    float64 `json:"score"`
	Snippet  string  `json:"snippet"`
}

// Search invokes the CLI in the snapshot directory and decodes its JSON
// result list.
func (s *ExecSearcher) Search(ctx context.Context, dir string, req *Request) ([]Result, error) {
	args := []string{"query", req.Query, "--format", "json"}
	if req.Limit > 0 {
		args = append(args, "--limit", strconv.Itoa(req.Limit))
	}
	switch req.SearchType {
	case TypeFTS:
		args = append(args, "--fts")
	case TypeTemporal:
		args = append(args, "--commits")
	case TypeScip:
		args = append(args, "--scip")
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, s.bin, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%s query timed out after %s", s.bin, s.timeout)
		}
		return nil, fmt.Errorf("%s query failed: %w: %s", s.bin, err, strings.TrimSpace(stderr.String()))
	}

	var raw []execResult
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode %s query output: %w", s.bin, err)
	}

	results := make([]Result, 0, len(raw))
	for _, r := range raw {
		results = append(results, Result{
			FilePath: r.FilePath,
			Line:     r.Line,
			Score:    r.Score,
			Snippet:  r.Snippet,
		})
	}
	return results, nil
}
