// Package router picks the best tool for a free-text query by keyword
// and description overlap. It is deliberately lexical: no embeddings,
// no ranking model, just weighted token overlap that is cheap enough to
// run on every request.
package router

import (
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/kernelworks/skillkern/internal/manifest"
)

// Config holds scoring weights. Zero values take the defaults.
type Config struct {
	// KeywordWeight scores hits on declared routing keywords.
	KeywordWeight float64
	// NameWeight scores hits on the skill and command name segments.
	NameWeight float64
	// DescriptionWeight scores hits on description tokens.
	DescriptionWeight float64
	// MinScore is the floor below which no match is returned.
	MinScore float64
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.KeywordWeight == 0 {
		out.KeywordWeight = 1.0
	}
	if out.NameWeight == 0 {
		out.NameWeight = 0.8
	}
	if out.DescriptionWeight == 0 {
		out.DescriptionWeight = 0.4
	}
	if out.MinScore == 0 {
		out.MinScore = 0.1
	}
	return out
}

// Match is one scored candidate.
type Match struct {
	Tool    *manifest.ToolRecord
	Score   float64
	Matched []string // query tokens that hit
}

// Router scores tools against queries.
type Router struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a router.
func New(cfg Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "router"),
	}
}

// Best returns the highest-scoring tool for query, or false when
// nothing clears the score floor.
func (r *Router) Best(query string, records []*manifest.ToolRecord) (Match, bool) {
	ranked := r.Rank(query, records)
	if len(ranked) == 0 {
		return Match{}, false
	}
	r.logger.Debug("routed query",
		"tool", ranked[0].Tool.FQName,
		"score", ranked[0].Score,
		"candidates", len(ranked),
	)
	return ranked[0], true
}

// Rank scores every record against query and returns those above the
// floor, best first. Ties break on name for stable output.
func (r *Router) Rank(query string, records []*manifest.ToolRecord) []Match {
	qtokens := tokenize(query)
	if len(qtokens) == 0 {
		return nil
	}

	var matches []Match
	for _, rec := range records {
		m := r.score(qtokens, rec)
		if m.Score >= r.cfg.MinScore {
			matches = append(matches, m)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Tool.FQName < matches[j].Tool.FQName
	})
	return matches
}

// score computes the weighted overlap of query tokens with one record,
// normalized by query length so long queries do not dominate.
func (r *Router) score(qtokens []string, rec *manifest.ToolRecord) Match {
	keywords := make(map[string]bool, len(rec.Keywords))
	for _, k := range rec.Keywords {
		for _, t := range tokenize(k) {
			keywords[t] = true
		}
	}
	names := make(map[string]bool)
	for _, t := range tokenize(rec.Skill + " " + rec.Command) {
		names[t] = true
	}
	desc := make(map[string]bool)
	for _, t := range tokenize(rec.Description) {
		desc[t] = true
	}

	var total float64
	var matched []string
	for _, t := range qtokens {
		var best float64
		switch {
		case keywords[t]:
			best = r.cfg.KeywordWeight
		case names[t]:
			best = r.cfg.NameWeight
		case desc[t]:
			best = r.cfg.DescriptionWeight
		}
		if best > 0 {
			total += best
			matched = append(matched, t)
		}
	}

	return Match{
		Tool:    rec,
		Score:   total / float64(len(qtokens)),
		Matched: matched,
	}
}

// stopwords are query tokens with no routing signal.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "for": true, "in": true,
	"is": true, "it": true, "me": true, "my": true, "of": true,
	"on": true, "or": true, "please": true, "that": true, "the": true,
	"this": true, "to": true, "with": true,
}

// tokenize lowercases and splits on non-alphanumeric runes, dropping
// stopwords and duplicates while keeping first-seen order.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
