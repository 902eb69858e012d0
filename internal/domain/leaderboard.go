package domain

import (
	"encoding/json"
	"time"
)

// MaxNameLength is the number of characters kept from a player name
const MaxNameLength = 50

// DateLayout is the fixed ISO-8601 layout used to render recorded_at
const DateLayout = "2006-01-02T15:04:05.000Z07:00"

// ScoreRecord is the stored best score of a single player
type ScoreRecord struct {
	ID         string    `json:"-"`
	PlayerName string    `json:"name"`
	Score      int64     `json:"score"`
	RecordedAt time.Time `json:"date"`
}

// LeaderboardEntry is a single row of the public leaderboard
type LeaderboardEntry struct {
	Name  string `json:"name"`
	Score int64  `json:"score"`
	Date  string `json:"date"`
}

// NewLeaderboardEntry projects a record into a leaderboard row
func NewLeaderboardEntry(rec ScoreRecord) LeaderboardEntry {
	return LeaderboardEntry{
		Name:  rec.PlayerName,
		Score: rec.Score,
		Date:  FormatDate(rec.RecordedAt),
	}
}

// FormatDate renders a timestamp in DateLayout, always in UTC
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// OutcomeKind tells the caller what a submission did
type OutcomeKind int

const (
	OutcomeCreated OutcomeKind = iota + 1
	OutcomeUpdated
	OutcomeRejected
)

// ReasonNotHigher is the only rejection reason: the stored score is equal or higher.
const ReasonNotHigher = "not_higher"

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Outcome is the result of an accepted-for-processing submission.
// ID is set for Created and Updated, Reason for Rejected.
type Outcome struct {
	Kind   OutcomeKind
	ID     string
	Reason string
}

// Created builds a Created outcome
func Created(id string) Outcome { return Outcome{Kind: OutcomeCreated, ID: id} }

// Updated builds an Updated outcome
func Updated(id string) Outcome { return Outcome{Kind: OutcomeUpdated, ID: id} }

// Rejected builds a Rejected outcome
func Rejected(reason string) Outcome { return Outcome{Kind: OutcomeRejected, Reason: reason} }

// Changed reports whether the submission mutated the store
func (o Outcome) Changed() bool {
	return o.Kind == OutcomeCreated || o.Kind == OutcomeUpdated
}

// ScoreSubmission is the wire form of a score submission, shared by HTTP and Kafka.
// Fields stay raw so numeric names and string scores are normalized the same way.
type ScoreSubmission struct {
	Name  json.RawMessage `json:"name"`
	Score json.RawMessage `json:"score"`
}

// Raw returns the textual name and score of the submission
func (s ScoreSubmission) Raw() (name, score string, err error) {
	if isAbsent(s.Name) || isAbsent(s.Score) {
		return "", "", NewValidationError(CodeMissingField)
	}
	return rawText(s.Name), rawText(s.Score), nil
}
