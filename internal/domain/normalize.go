package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// NormalizeName trims the name and keeps at most MaxNameLength characters.
// Names that differ only past that length map to the same key.
func NormalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", NewValidationError(CodeEmptyName)
	}
	runes := []rune(name)
	if len(runes) > MaxNameLength {
		name = string(runes[:MaxNameLength])
	}
	return name, nil
}

// ParseScore parses a non-negative integer score
func ParseScore(raw string) (int64, error) {
	score, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, NewValidationError(CodeBadScoreFormat)
	}
	if score < 0 {
		return 0, NewValidationError(CodeNegativeScore)
	}
	return score, nil
}

// NormalizeSubmission validates both fields, name first
func NormalizeSubmission(rawName, rawScore string) (string, int64, error) {
	name, err := NormalizeName(rawName)
	if err != nil {
		return "", 0, err
	}
	score, err := ParseScore(rawScore)
	if err != nil {
		return "", 0, err
	}
	return name, score, nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// rawText returns the content of a JSON string, or the literal text of any other value
func rawText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}
