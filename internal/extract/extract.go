// Package extract pulls a JSON object out of free-form model output.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// SnippetLimit bounds the diagnostic prefix kept in a ProtocolError.
const SnippetLimit = 500

// Strategy names the tier that produced the object.
type Strategy string

const (
	StrategyDirect Strategy = "direct"
	StrategyFence  Strategy = "fence"
	StrategyBrace  Strategy = "brace"
)

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?\\s*```")

var errNotObject = errors.New("top-level value is not an object")

// ProtocolError reports text from which no JSON object could be extracted.
type ProtocolError struct {
	Snippet string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("could not parse JSON from model response: %s", e.Snippet)
}

// Extract tries, in order: the whole text, the first fenced code block,
// and the first balanced {...} group. The brace scan makes a single
// attempt at the first point where depth returns to zero.
func Extract(text string) (map[string]any, Strategy, error) {
	if obj, err := parseObject(text); err == nil {
		return obj, StrategyDirect, nil
	}

	if m := fencePattern.FindStringSubmatch(text); m != nil {
		if obj, err := parseObject(m[1]); err == nil {
			return obj, StrategyFence, nil
		}
	}

	if candidate, ok := firstBraceGroup(text); ok {
		if obj, err := parseObject(candidate); err == nil {
			return obj, StrategyBrace, nil
		}
	}

	return nil, "", &ProtocolError{Snippet: prefix(text, SnippetLimit)}
}

func parseObject(s string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return obj, nil
}

func firstBraceGroup(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// prefix returns the first n runes of s.
func prefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
