// Package jsonparse recovers a JSON object from free-form model output through an
// ordered chain of strategies, recording every attempt.
package jsonparse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"finrep/internal/domain"
)

const (
	StrategyStrict  = "strict"
	StrategyFenced  = "fenced_block"
	StrategyBracket = "bracket_scan"
)

var fenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")

var errNotObject = errors.New("top-level value is not an object")

type strategy struct {
	name string
	fn   func(string) (map[string]any, error)
}

var chain = []strategy{
	{StrategyStrict, strict},
	{StrategyFenced, fenced},
	{StrategyBracket, bracketScan},
}

// Parse runs the chain and returns the first object recovered together with every
// attempt made. If no strategy succeeds the error is a *domain.SchemaError.
func Parse(raw string) (map[string]any, []domain.ParseAttempt, error) {
	attempts := make([]domain.ParseAttempt, 0, len(chain))
	for _, s := range chain {
		tree, err := s.fn(raw)
		if err != nil {
			attempts = append(attempts, domain.ParseAttempt{Strategy: s.name, Error: err.Error()})
			continue
		}
		attempts = append(attempts, domain.ParseAttempt{Strategy: s.name, OK: true})
		return tree, attempts, nil
	}
	return nil, attempts, &domain.SchemaError{Attempts: attempts}
}

// Into parses raw and decodes the recovered object into out.
func Into(raw string, out any) ([]domain.ParseAttempt, error) {
	tree, attempts, err := Parse(raw)
	if err != nil {
		return attempts, err
	}
	b, err := json.Marshal(tree)
	if err != nil {
		return attempts, fmt.Errorf("re-encoding parsed object: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return attempts, fmt.Errorf("decoding parsed object: %w", err)
	}
	return attempts, nil
}

func decodeObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return obj, nil
}

func strict(raw string) (map[string]any, error) {
	return decodeObject(strings.TrimSpace(raw))
}

func fenced(raw string) (map[string]any, error) {
	matches := fenceRe.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil, errors.New("no fenced block found")
	}
	var lastErr error
	for _, m := range matches {
		obj, err := decodeObject(strings.TrimSpace(m[1]))
		if err == nil {
			return obj, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// bracketScan tries every balanced {...} span in order of appearance, skipping braces
// inside string literals, and returns the first that decodes.
func bracketScan(raw string) (map[string]any, error) {
	b := []byte(raw)
	start := bytes.IndexByte(b, '{')
	if start < 0 {
		return nil, errors.New("no opening brace found")
	}
	var lastErr error = errors.New("no balanced object found")
	for start >= 0 {
		if end := matchBrace(b, start); end > start {
			obj, err := decodeObject(string(b[start : end+1]))
			if err == nil {
				return obj, nil
			}
			lastErr = err
		}
		next := bytes.IndexByte(b[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, lastErr
}

func matchBrace(b []byte, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(b); i++ {
		c := b[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
