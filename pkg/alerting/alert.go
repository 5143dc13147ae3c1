// Package alerting builds, routes and resolves operational alerts with
// per-(type, entity) cooldowns.
package alerting

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Severity classifies an alert.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Channel is an outbound notification channel.
type Channel string

const (
	ChannelChat   Channel = "chat"
	ChannelEmail  Channel = "email"
	ChannelSMS    Channel = "sms"
	ChannelPaging Channel = "paging"
)

// channelsFor maps severity to the channels it notifies.
func channelsFor(sev Severity) []Channel {
	switch sev {
	case SeverityCritical:
		return []Channel{ChannelChat, ChannelEmail, ChannelSMS, ChannelPaging}
	case SeverityHigh:
		return []Channel{ChannelChat, ChannelEmail, ChannelPaging}
	case SeverityWarning:
		return []Channel{ChannelChat, ChannelEmail}
	default:
		return []Channel{ChannelChat}
	}
}

// Alert is one raised condition. An active alert of a given (type, entity)
// is unique at any instant.
type Alert struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Severity      Severity          `json:"severity"`
	Entity        string            `json:"entity"`
	Message       string            `json:"message"`
	CorrelationID string            `json:"correlationId,omitempty"`
	RaisedAt      time.Time         `json:"raisedAt"`
	ResolvedAt    *time.Time        `json:"resolvedAt,omitempty"`
	CooldownUntil time.Time         `json:"cooldownUntil"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func newAlertID() string {
	return ulid.Make().String()
}
