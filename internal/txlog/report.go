package txlog

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// TimestampLayout is the only accepted wire format for reported timestamps
const TimestampLayout = "2006-01-02T15:04:05"

var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}$`)

// ValidationError is returned for any report that cannot be accepted as-is.
// Inputs are never coerced into something valid.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ParseTimestamp parses a YYYY-MM-DDTHH:MM:SS timestamp as UTC
func ParseTimestamp(s string) (time.Time, error) {
	if !timestampPattern.MatchString(s) {
		return time.Time{}, &ValidationError{Field: "timestamp", Reason: fmt.Sprintf("%q does not match YYYY-MM-DDTHH:MM:SS", s)}
	}

	ts, err := time.ParseInLocation(TimestampLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "timestamp", Reason: err.Error()}
	}

	return ts, nil
}

// Report is a raw stage report as submitted by an agent or worker
type Report struct {
	Stage     string
	Status    string
	Timestamp string
	Message   string
}

// ValidReport is a report that passed validation for a given actor
type ValidReport struct {
	Stage     Stage
	Status    Status
	Timestamp time.Time
	Message   string
}

// Validate checks every field of the report against the actor's vocabulary.
// The first failing field is reported.
func (r Report) Validate(actor Actor) (ValidReport, error) {
	if r.Stage == "" || r.Status == "" || r.Timestamp == "" {
		return ValidReport{}, &ValidationError{Field: "parameters", Reason: "stage, status and timestamp are required"}
	}

	stage, err := ParseStage(actor, r.Stage)
	if err != nil {
		return ValidReport{}, err
	}

	status, err := ParseStatus(r.Status)
	if err != nil {
		return ValidReport{}, err
	}

	ts, err := ParseTimestamp(r.Timestamp)
	if err != nil {
		return ValidReport{}, err
	}

	if strings.TrimSpace(r.Message) == "" {
		return ValidReport{}, &ValidationError{Field: "message", Reason: "message must not be empty"}
	}

	return ValidReport{
		Stage:     stage,
		Status:    status,
		Timestamp: ts,
		Message:   r.Message,
	}, nil
}
