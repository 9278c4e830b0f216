package chatcontext

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Options tunes context selection. The zero value is normalized to
// DefaultOptions by NewAssembler.
type Options struct {
	// RecentFetchLimit bounds the store read for recency-window selection.
	RecentFetchLimit int
	// RelevantFetchLimit bounds the store read for relevance-ranked selection.
	RelevantFetchLimit int
	// SeedCount is how many of the newest turns always seed a relevance-ranked
	// window before ranked candidates are appended.
	SeedCount int
	// RankedLimit caps how many scored candidates are considered for appending.
	RankedLimit int
	// RecencyWeight multiplies the recency bonus in the combined score.
	RecencyWeight float64
}

// DefaultOptions returns the standard selection tuning.
func DefaultOptions() Options {
	return Options{
		RecentFetchLimit:   50,
		RelevantFetchLimit: 100,
		SeedCount:          5,
		RankedLimit:        20,
		RecencyWeight:      0.3,
	}
}

// Assembler builds bounded context windows from a session's turn log. It is
// stateless across calls: every selection re-reads the source, and a source
// failure degrades to an empty window rather than an error, so generation can
// proceed without conversational memory.
type Assembler struct {
	source TurnSource
	opts   Options
	log    zerolog.Logger
}

// NewAssembler creates an assembler over the given turn source. Zero-valued
// options fields fall back to their defaults.
func NewAssembler(source TurnSource, opts Options, logger zerolog.Logger) *Assembler {
	def := DefaultOptions()
	if opts.RecentFetchLimit <= 0 {
		opts.RecentFetchLimit = def.RecentFetchLimit
	}
	if opts.RelevantFetchLimit <= 0 {
		opts.RelevantFetchLimit = def.RelevantFetchLimit
	}
	if opts.SeedCount <= 0 {
		opts.SeedCount = def.SeedCount
	}
	if opts.RankedLimit <= 0 {
		opts.RankedLimit = def.RankedLimit
	}
	if opts.RecencyWeight == 0 {
		opts.RecencyWeight = def.RecencyWeight
	}
	return &Assembler{
		source: source,
		opts:   opts,
		log:    logger.With().Str("component", "chatcontext").Logger(),
	}
}

// SelectRecent returns the newest turns of a session, oldest first, whose
// cumulative word count fits maxWords. Turns with no resolvable content are
// skipped. Accumulation stops at the first turn that would overflow the
// budget, except that the very first accepted turn is kept even when it alone
// exceeds maxWords, so a non-empty session yields a non-empty window.
func (a *Assembler) SelectRecent(ctx context.Context, sessionID string, maxWords int) []ContextTurn {
	turns, err := a.source.FetchRecentTurns(ctx, sessionID, a.opts.RecentFetchLimit)
	if err != nil {
		a.log.Warn().Err(err).Str("session_id", sessionID).
			Msg("turn fetch failed, continuing without context")
		return nil
	}

	var window []ContextTurn
	total := 0
	// Oldest-first processing order.
	for i := len(turns) - 1; i >= 0; i-- {
		content := turns[i].Content()
		if content == "" {
			continue
		}
		words := wordCount(content)
		if len(window) > 0 && total+words > maxWords {
			break
		}
		window = append(window, ContextTurn{
			Role:     turns[i].Role,
			Content:  content,
			ImageRef: turns[i].ImageRef,
		})
		total += words
	}
	return window
}

type scoredTurn struct {
	turn    Turn
	content string
	words   int
	score   float64
}

// SelectRelevant returns a context window ranked against the current request
// text. The window opens with the SeedCount newest turns (oldest first,
// budgeted like SelectRecent), followed by the highest-scoring remaining
// candidates in descending score order. The two blocks together are not
// globally chronological; downstream formatting relies on this exact shape.
// Appended candidates observe the word budget strictly, and no (role,
// content) pair appears twice.
func (a *Assembler) SelectRelevant(ctx context.Context, sessionID, currentText string, maxWords int) []ContextTurn {
	turns, err := a.source.FetchRecentTurns(ctx, sessionID, a.opts.RelevantFetchLimit)
	if err != nil {
		a.log.Warn().Err(err).Str("session_id", sessionID).
			Msg("turn fetch failed, continuing without context")
		return nil
	}
	if len(turns) == 0 {
		return nil
	}

	currentKeywords := ExtractKeywords(currentText)

	// Score every non-empty candidate. The recency bonus is taken from the
	// turn's rank in the fetched newest-first list, including turns that are
	// later discarded for having no content.
	var scored []scoredTurn
	for i, t := range turns {
		content := t.Content()
		if content == "" {
			continue
		}
		keywordScore := Score(currentKeywords, ExtractKeywords(content))
		bonus := RecencyBonus(i, len(turns))
		scored = append(scored, scoredTurn{
			turn:    t,
			content: content,
			words:   wordCount(content),
			score:   keywordScore + a.opts.RecencyWeight*bonus,
		})
	}
	// Stable: equal scores keep their newest-first relative order.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	if len(scored) > a.opts.RankedLimit {
		scored = scored[:a.opts.RankedLimit]
	}

	seen := map[string]struct{}{}
	var window []ContextTurn
	total := 0

	// Seed with the newest turns, oldest first, under the lenient budget rule
	// (the first accepted turn may exceed maxWords on its own).
	seedCount := a.opts.SeedCount
	if seedCount > len(turns) {
		seedCount = len(turns)
	}
	for i := seedCount - 1; i >= 0; i-- {
		content := turns[i].Content()
		if content == "" {
			continue
		}
		key := dedupeKey(turns[i].Role, content)
		if _, dup := seen[key]; dup {
			continue
		}
		words := wordCount(content)
		if len(window) > 0 && total+words > maxWords {
			break
		}
		window = append(window, ContextTurn{
			Role:     turns[i].Role,
			Content:  content,
			ImageRef: turns[i].ImageRef,
		})
		seen[key] = struct{}{}
		total += words
	}

	// Append ranked candidates not already present. The budget is strict
	// here: the first candidate that would overflow ends the walk.
	for _, st := range scored {
		key := dedupeKey(st.turn.Role, st.content)
		if _, dup := seen[key]; dup {
			continue
		}
		if total+st.words > maxWords {
			break
		}
		window = append(window, ContextTurn{
			Role:     st.turn.Role,
			Content:  st.content,
			ImageRef: st.turn.ImageRef,
		})
		seen[key] = struct{}{}
		total += st.words
	}
	return window
}

func dedupeKey(role, content string) string {
	return role + "\x00" + content
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
