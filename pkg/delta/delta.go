// Package delta pulls the per-turn state summary out of narrator text.
//
// The narrator is asked to finish every response with an object shaped like
//
//	{"xp_gained": 10, "hp_change": -3}
//
// Narrator output is untrusted. Parse reports exactly what went wrong, and
// Extractor turns every failure into the zero delta so a turn never fails
// because of a bad summary.
package delta

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	// ErrNoSummary means the text does not end with an object.
	ErrNoSummary = errors.New("no state summary found")
	// ErrMalformedSummary means the text ends with something that looks
	// like a summary but could not be decoded.
	ErrMalformedSummary = errors.New("malformed state summary")
)

const (
	fieldXPGained = "xp_gained"
	fieldHPChange = "hp_change"
	codeFence     = "```"
)

// explicitPlus matches a leading "+" on a number, e.g. "hp_change": +5.
// Models write this often enough that it is accepted.
var explicitPlus = regexp.MustCompile(`:\s*\+(\d)`)

// StateDelta is the structured change a narrator reports for one turn.
type StateDelta struct {
	XPGained int `json:"xp_gained"`
	HPChange int `json:"hp_change"`
}

// IsZero reports whether the delta carries no change.
func (d StateDelta) IsZero() bool {
	return d.XPGained == 0 && d.HPChange == 0
}

func (d StateDelta) String() string {
	return fmt.Sprintf("{xp_gained:%d hp_change:%d}", d.XPGained, d.HPChange)
}

// Parse decodes the summary object at the end of text and returns it along
// with the narrative that precedes it. On error the returned narrative is the
// input unchanged and the delta is zero.
func Parse(text string) (StateDelta, string, error) {
	body, start, err := locateTrailingObject(text)
	if err != nil {
		return StateDelta{}, text, err
	}

	d, err := decode(body)
	if err != nil {
		return StateDelta{}, text, err
	}

	return d, cleanNarrative(text[:start]), nil
}

// locateTrailingObject finds the last brace-delimited JSON object that ends
// the text (optionally inside a trailing code fence). It returns the object
// and the offset in text where the stripped suffix begins.
func locateTrailingObject(text string) (string, int, error) {
	trimmed := strings.TrimRightFunc(text, unicode.IsSpace)

	cut := -1
	candidate := trimmed
	if strings.HasSuffix(trimmed, codeFence) {
		inner := trimmed[:len(trimmed)-len(codeFence)]
		open := strings.LastIndex(inner, codeFence)
		if open < 0 {
			return "", 0, ErrNoSummary
		}
		cut = open
		candidate = strings.TrimSpace(inner[open+len(codeFence):])
		if len(candidate) >= 4 && strings.EqualFold(candidate[:4], "json") {
			candidate = strings.TrimSpace(candidate[4:])
		}
		if !strings.HasPrefix(candidate, "{") {
			return "", 0, ErrNoSummary
		}
	}

	if !strings.HasSuffix(candidate, "}") {
		return "", 0, ErrNoSummary
	}

	// Walk back through opening braces until one starts a valid object that
	// runs to the end. Nested objects resolve to their outermost brace.
	end := len(candidate)
	for i := strings.LastIndex(candidate, "{"); i >= 0; i = strings.LastIndex(candidate[:i], "{") {
		obj := normalize(candidate[i:end])
		if json.Valid([]byte(obj)) {
			if cut < 0 {
				cut = i
			}
			return obj, cut, nil
		}
	}

	return "", 0, fmt.Errorf("%w: trailing braces do not form a JSON object", ErrMalformedSummary)
}

func normalize(obj string) string {
	return explicitPlus.ReplaceAllString(obj, ": $1")
}

func decode(obj string) (StateDelta, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return StateDelta{}, fmt.Errorf("%w: %v", ErrMalformedSummary, err)
	}

	rawXP, hasXP := fields[fieldXPGained]
	rawHP, hasHP := fields[fieldHPChange]
	if !hasXP && !hasHP {
		return StateDelta{}, ErrNoSummary
	}

	var d StateDelta
	var err error
	if hasXP {
		if d.XPGained, err = decodeInt(rawXP); err != nil {
			return StateDelta{}, fmt.Errorf("%w: %s: %v", ErrMalformedSummary, fieldXPGained, err)
		}
	}
	if hasHP {
		if d.HPChange, err = decodeInt(rawHP); err != nil {
			return StateDelta{}, fmt.Errorf("%w: %s: %v", ErrMalformedSummary, fieldHPChange, err)
		}
	}
	return d, nil
}

// decodeInt accepts JSON integers, integral floats and quoted integers.
// Magnitudes above MaxInt32 are rejected so record arithmetic cannot wrap.
func decodeInt(raw json.RawMessage) (int, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, err
	}

	var s string
	switch val := v.(type) {
	case json.Number:
		s = val.String()
	case string:
		s = strings.TrimPrefix(strings.TrimSpace(val), "+")
	default:
		return 0, fmt.Errorf("expected integer, got %s", string(raw))
	}

	if n, err := strconv.Atoi(s); err == nil {
		if n > math.MaxInt32 || n < -math.MaxInt32 {
			return 0, fmt.Errorf("integer out of range: %s", string(raw))
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("expected integer, got %s", string(raw))
	}
	if math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("integer out of range: %s", string(raw))
	}
	return int(f), nil
}

// cleanNarrative trims what is left once the summary is removed, including a
// dangling "json" label line some models print ahead of the object.
func cleanNarrative(s string) string {
	s = strings.TrimRightFunc(s, unicode.IsSpace)
	if idx := strings.LastIndex(s, "\n"); idx >= 0 {
		if strings.EqualFold(strings.TrimSpace(s[idx+1:]), "json") {
			s = strings.TrimRightFunc(s[:idx], unicode.IsSpace)
		}
	} else if strings.EqualFold(strings.TrimSpace(s), "json") {
		s = ""
	}
	return s
}

// Result is the outcome of extracting one narrator response.
type Result struct {
	Delta     StateDelta
	Narrative string // text shown to the player
	Found     bool   // a summary was decoded and stripped
	Err       error  // parse failure, if any; never fatal
}

// Extractor is the total wrapper around Parse used by the turn loop.
type Extractor struct {
	logger *slog.Logger
}

func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// Extract never fails. A missing or malformed summary yields the zero delta
// and the input text unchanged.
func (e *Extractor) Extract(text string) Result {
	d, narrative, err := Parse(text)
	switch {
	case err == nil:
		e.logger.Debug("State summary extracted", "delta", d.String())
		return Result{Delta: d, Narrative: narrative, Found: true}
	case errors.Is(err, ErrNoSummary):
		e.logger.Debug("Narrator response has no state summary")
	default:
		e.logger.Warn("Discarding malformed state summary", "error", err)
	}
	return Result{Narrative: text, Err: err}
}
