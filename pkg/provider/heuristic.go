package provider

import (
	"context"
	"strings"
)

// HeuristicExtractor is the default Extractor: it treats every
// observation summary that looks like a declarative statement as a
// candidate fact, with a confidence derived from sentence length and
// punctuation, filtering out greetings and other non-factual chatter
// without needing a configured language model.
type HeuristicExtractor struct{}

// NewHeuristicExtractor returns the zero-dependency default extractor.
func NewHeuristicExtractor() *HeuristicExtractor { return &HeuristicExtractor{} }

var greetingPrefixes = []string{"hi", "hello", "hey", "thanks", "thank you", "ok", "okay", "sure", "got it"}

func (h *HeuristicExtractor) Extract(_ context.Context, summaries []string) ([]ExtractedItem, error) {
	items := make([]ExtractedItem, 0, len(summaries))
	for _, s := range summaries {
		text := strings.TrimSpace(s)
		if text == "" {
			continue
		}
		lower := strings.ToLower(text)
		isGreeting := false
		for _, p := range greetingPrefixes {
			if strings.HasPrefix(lower, p) {
				isGreeting = true
				break
			}
		}
		if isGreeting {
			continue
		}

		words := strings.Fields(text)
		if len(words) < 3 {
			continue // too short to be a self-contained statement
		}

		confidence := 0.6
		if strings.HasSuffix(text, ".") || strings.HasSuffix(text, "!") {
			confidence = 0.75
		}
		if len(words) >= 6 {
			confidence += 0.1
		}
		if confidence > 1.0 {
			confidence = 1.0
		}

		items = append(items, ExtractedItem{
			Text:       text,
			Category:   "general",
			Confidence: confidence,
		})
	}
	return items, nil
}

// HeuristicJudge breaks conflicts deterministically by preferring the
// longer, more specific text — a stand-in for an LLM judge that always
// "compares" instead of erroring, so MergeEngine's auto strategy still
// makes progress when no real judge is wired.
type HeuristicJudge struct{}

// NewHeuristicJudge returns the zero-dependency default judge.
func NewHeuristicJudge() *HeuristicJudge { return &HeuristicJudge{} }

func (j *HeuristicJudge) Compare(_ context.Context, a, b, _ string) (*Verdict, error) {
	switch {
	case len(strings.Fields(a)) > len(strings.Fields(b)):
		return &Verdict{Winner: "a", Score: 0.6, Explanation: "longer, more specific statement"}, nil
	case len(strings.Fields(b)) > len(strings.Fields(a)):
		return &Verdict{Winner: "b", Score: 0.6, Explanation: "longer, more specific statement"}, nil
	default:
		return &Verdict{Winner: "tie", Score: 0.5, Explanation: "equivalent specificity"}, nil
	}
}
