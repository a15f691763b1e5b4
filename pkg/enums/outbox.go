package enums

import "fmt"

// OutboxStatus tracks an outbox row through publication.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxPublished  OutboxStatus = "published"
)

var validOutboxStatuses = []OutboxStatus{
	OutboxPending,
	OutboxProcessing,
	OutboxPublished,
}

// IsValid reports whether the value is a known outbox status.
func (s OutboxStatus) IsValid() bool {
	for _, candidate := range validOutboxStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseOutboxStatus converts raw input into OutboxStatus.
func ParseOutboxStatus(value string) (OutboxStatus, error) {
	for _, candidate := range validOutboxStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox status %q", value)
}

// DeadLetterKind distinguishes persisted domain-event and command failures.
type DeadLetterKind string

const (
	DeadLetterEvent   DeadLetterKind = "event"
	DeadLetterCommand DeadLetterKind = "command"
)

// IsValid reports whether the value is a known dead-letter kind.
func (k DeadLetterKind) IsValid() bool {
	return k == DeadLetterEvent || k == DeadLetterCommand
}
