// Package semanticdiff implements SemanticDiffEngine: comparing two
// conversations across divergence, action, reasoning and outcome dimensions.
package semanticdiff

import (
	"context"
	"math"
	"strings"

	"github.com/kittclouds/memoryvcs/internal/storage"
	"github.com/kittclouds/memoryvcs/internal/tokenize"
	"github.com/kittclouds/memoryvcs/pkg/orcherr"
	"github.com/kittclouds/memoryvcs/pkg/provider"
)

// Verdict is the composite outcome of a diff.
type Verdict string

const (
	Equivalent Verdict = "equivalent"
	Partial    Verdict = "partial"
	Divergent  Verdict = "divergent"
)

// Efficiency compares total token usage between the two conversations.
type Efficiency string

const (
	ABetter Efficiency = "a_better"
	BBetter Efficiency = "b_better"
	Tie     Efficiency = "tie"
)

// Result holds all four comparison dimensions plus the composite verdict.
type Result struct {
	DivergencePoint    int // length of shared prefix, in messages
	SequenceSimilarity float64
	ToolErrorsA        int
	ToolErrorsB        int
	ReasoningSimilarity float64
	TokenDeltaAB       int // totalTokens(a) - totalTokens(b)
	ToolCallDeltaAB    int
	Efficiency         Efficiency
	Verdict            Verdict
}

// Engine computes semantic diffs between two conversations.
type Engine struct {
	store    storage.Store
	embedder provider.Embedder // may be nil; disables reasoning-diff cosine scoring
}

// New builds an Engine.
func New(store storage.Store, embedder provider.Embedder) *Engine {
	return &Engine{store: store, embedder: embedder}
}

// Compare diffs conversation a against conversation b.
func (e *Engine) Compare(ctx context.Context, convA, convB string) (*Result, error) {
	a, err := e.store.GetConversation(ctx, convA)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.NotFound, err, "semanticdiff: %q not found", convA)
	}
	b, err := e.store.GetConversation(ctx, convB)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.NotFound, err, "semanticdiff: %q not found", convB)
	}

	msgsA, err := e.store.ListMessages(ctx, convA, 0)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "semanticdiff: list messages %q", convA)
	}
	msgsB, err := e.store.ListMessages(ctx, convB, 0)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "semanticdiff: list messages %q", convB)
	}

	r := &Result{}
	r.DivergencePoint = sharedPrefixLen(msgsA, msgsB)

	toolsA := toolNameSequence(msgsA)
	toolsB := toolNameSequence(msgsB)
	r.SequenceSimilarity = lcsSimilarity(toolsA, toolsB)
	r.ToolErrorsA = countToolErrors(msgsA)
	r.ToolErrorsB = countToolErrors(msgsB)

	r.ReasoningSimilarity = e.reasoningSimilarity(ctx, msgsA, msgsB)

	r.TokenDeltaAB = a.TotalTokens - b.TotalTokens
	r.ToolCallDeltaAB = len(toolsA) - len(toolsB)
	switch {
	case a.TotalTokens < b.TotalTokens:
		r.Efficiency = ABetter
	case b.TotalTokens < a.TotalTokens:
		r.Efficiency = BBetter
	default:
		r.Efficiency = Tie
	}

	outcomeSmall := absInt(r.TokenDeltaAB) <= small(a.TotalTokens, b.TotalTokens)
	switch {
	case r.SequenceSimilarity >= 0.9 && outcomeSmall:
		r.Verdict = Equivalent
	case r.SequenceSimilarity < 0.5:
		r.Verdict = Divergent
	default:
		r.Verdict = Partial
	}
	return r, nil
}

func small(a, b int) int {
	base := a
	if b > base {
		base = b
	}
	threshold := base / 10
	if threshold < 50 {
		threshold = 50
	}
	return threshold
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sharedPrefixLen(a, b []*storage.Message) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for ; i < n; i++ {
		if a[i].Role != b[i].Role || tokenize.Canonicalize(a[i].Content) != tokenize.Canonicalize(b[i].Content) {
			break
		}
	}
	return i
}

func toolNameSequence(msgs []*storage.Message) []string {
	var out []string
	for _, m := range msgs {
		for _, tc := range m.ToolCalls {
			out = append(out, tc.Name)
		}
	}
	return out
}

func countToolErrors(msgs []*storage.Message) int {
	count := 0
	for _, m := range msgs {
		for _, tc := range m.ToolCalls {
			if strings.Contains(strings.ToLower(tc.Result), "error") || strings.Contains(strings.ToLower(tc.Result), "failed") {
				count++
			}
		}
	}
	return count
}

// lcsSimilarity returns the longest-common-subsequence length over a and b,
// normalized by the longer sequence's length (1.0 when both are empty).
func lcsSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	la, lb := len(a), len(b)
	dp := make([][]int, la+1)
	for i := range dp {
		dp[i] = make([]int, lb+1)
	}
	for i := 1; i <= la; i++ {
		for j := 1; j <= lb; j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] >= dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1.0
	}
	return float64(dp[la][lb]) / float64(longest)
}

func (e *Engine) reasoningSimilarity(ctx context.Context, a, b []*storage.Message) float64 {
	if e.embedder == nil {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var total float64
	var count int
	for i := 0; i < n; i++ {
		if a[i].Thinking == "" && b[i].Thinking == "" {
			continue
		}
		va, errA := e.embedder.Embed(ctx, a[i].Thinking)
		vb, errB := e.embedder.Embed(ctx, b[i].Thinking)
		if errA != nil || errB != nil {
			continue
		}
		total += cosine(va, vb)
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
