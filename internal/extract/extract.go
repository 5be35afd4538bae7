// Package extract turns semi-structured model responses into question/answer pairs.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Pair is a raw question/answer pair as found in a model response.
type Pair struct {
	Question string
	Answer   string
}

// Strategy tells which extraction stage produced a Result.
type Strategy int

const (
	// StrategyEmpty means no pairs were found.
	StrategyEmpty Strategy = iota
	// StrategyJSON means the response decoded as a JSON array.
	StrategyJSON
	// StrategyFallback means the response was not a JSON array and pairs were recovered by pattern.
	StrategyFallback
)

func (s Strategy) String() string {
	switch s {
	case StrategyJSON:
		return "json"
	case StrategyFallback:
		return "fallback"
	default:
		return "empty"
	}
}

// Result is the outcome of Extract.
type Result struct {
	Strategy Strategy
	Pairs    []Pair
}

var (
	fenceRe = regexp.MustCompile("```(?:json)?")

	// Values are captured raw and never unescaped; quotes inside a value can cut or shift a match.
	pairRe = regexp.MustCompile(`(?s){"question"\s*:\s*"(.*?)"\s*,\s*"answer"\s*:\s*"(.*?)"}`)
)

// Normalize removes code fences wherever they occur and trims the result.
// Removal repeats until no fence is left, so Normalize(Normalize(s)) == Normalize(s).
func Normalize(raw string) string {
	text := raw
	for strings.Contains(text, "```") {
		text = fenceRe.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// Extract parses normalized text as a JSON array of {"question","answer"} objects and
// falls back to a pattern scan when the text is not a JSON array.
func Extract(text string) Result {
	if pairs, ok := decodeArray(text); ok {
		if len(pairs) == 0 {
			return Result{Strategy: StrategyEmpty}
		}
		return Result{Strategy: StrategyJSON, Pairs: pairs}
	}

	pairs := scan(text)
	if len(pairs) == 0 {
		return Result{Strategy: StrategyEmpty}
	}
	return Result{Strategy: StrategyFallback, Pairs: pairs}
}

func decodeArray(text string) ([]Pair, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		return nil, false
	}

	var pairs []Pair
	for _, item := range items {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(item, &obj); err != nil {
			continue
		}
		rawQ, okQ := obj["question"]
		rawA, okA := obj["answer"]
		if !okQ || !okA {
			continue
		}
		var question, answer string
		if json.Unmarshal(rawQ, &question) != nil || json.Unmarshal(rawA, &answer) != nil {
			continue
		}
		pairs = append(pairs, Pair{Question: question, Answer: answer})
	}
	return pairs, true
}

func scan(text string) []Pair {
	matches := pairRe.FindAllStringSubmatch(text, -1)
	pairs := make([]Pair, 0, len(matches))
	for _, m := range matches {
		pairs = append(pairs, Pair{Question: m[1], Answer: m[2]})
	}
	return pairs
}
