package provider

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseExtraction parses a language model's raw response into a list of
// ExtractedItem, tolerating markdown code fences and moderately malformed
// JSON by falling back to regex-based repair before giving up.
func ParseExtraction(raw string) ([]ExtractedItem, error) {
	cleaned := stripCodeFence(strings.TrimSpace(raw))
	if cleaned == "" {
		return nil, nil
	}

	var wrapped struct {
		Items []ExtractedItem `json:"items"`
	}
	if err := json.Unmarshal([]byte(cleaned), &wrapped); err == nil && wrapped.Items != nil {
		return filterItems(wrapped.Items), nil
	}

	var bare []ExtractedItem
	if err := json.Unmarshal([]byte(cleaned), &bare); err == nil {
		return filterItems(bare), nil
	}

	repaired := repairItems(cleaned)
	if len(repaired) == 0 {
		return nil, fmt.Errorf("provider: failed to parse extraction response")
	}
	return filterItems(repaired), nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

func filterItems(items []ExtractedItem) []ExtractedItem {
	out := make([]ExtractedItem, 0, len(items))
	for _, it := range items {
		it.Text = strings.TrimSpace(it.Text)
		if it.Text == "" {
			continue
		}
		it.Category = strings.TrimSpace(it.Category)
		if it.Category == "" {
			it.Category = "general"
		}
		if it.Confidence <= 0 {
			it.Confidence = 0.7
		}
		if it.Confidence > 1.0 {
			it.Confidence = 1.0
		}
		out = append(out, it)
	}
	return out
}

var itemPattern = regexp.MustCompile(
	`\{\s*"text"\s*:\s*"[^"]+"\s*(?:,\s*"[^"]+"\s*:\s*(?:"[^"]*"|[\d.]+|true|false|null))*\s*\}`,
)

func repairItems(raw string) []ExtractedItem {
	matches := itemPattern.FindAllString(raw, -1)
	items := make([]ExtractedItem, 0, len(matches))
	for _, m := range matches {
		var item ExtractedItem
		if err := json.Unmarshal([]byte(m), &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items
}
