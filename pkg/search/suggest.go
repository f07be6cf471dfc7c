package search

import (
	"sort"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// maxSuggestions bounds how many close matches are surfaced per unknown name.
const maxSuggestions = 3

// suggest returns the closest known aliases for an unresolvable name, by
// edit distance. Matches further than half the name's length are noise and
// are dropped.
func (o *Orchestrator) suggest(name string) []string {
	known, err := o.aliases.List()
	if err != nil {
		o.logger.Warn().Err(err).Msg("failed to list aliases for suggestions")
		return nil
	}

	limit := len(name)/2 + 1
	type candidate struct {
		alias string
		dist  int
	}
	var candidates []candidate
	for _, a := range known {
		d := levenshtein.DistanceForStrings(
			[]rune(strings.ToLower(name)),
			[]rune(strings.ToLower(a)),
			levenshtein.DefaultOptions,
		)
		if d <= limit {
			candidates = append(candidates, candidate{alias: a, dist: d})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].alias < candidates[j].alias
	})

	var out []string
	for _, c := range candidates {
		if len(out) == maxSuggestions {
			break
		}
		out = append(out, c.alias)
	}
	return out
}
