package enums

import "fmt"

// SessionStatus is the lifecycle state of a WhatsApp session.
type SessionStatus string

const (
	SessionCreated      SessionStatus = "created"
	SessionPairing      SessionStatus = "pairing"
	SessionConnected    SessionStatus = "connected"
	SessionDisconnected SessionStatus = "disconnected"
	SessionDeleted      SessionStatus = "deleted"
)

var validSessionStatuses = []SessionStatus{
	SessionCreated,
	SessionPairing,
	SessionConnected,
	SessionDisconnected,
	SessionDeleted,
}

// IsValid reports whether the value is a known session status.
func (s SessionStatus) IsValid() bool {
	for _, candidate := range validSessionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSessionStatus converts raw input into SessionStatus.
func ParseSessionStatus(value string) (SessionStatus, error) {
	for _, candidate := range validSessionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid session status %q", value)
}

// MessageDirection marks a stored message as inbound or outbound.
type MessageDirection string

const (
	MessageInbound  MessageDirection = "inbound"
	MessageOutbound MessageDirection = "outbound"
)
