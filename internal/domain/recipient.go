package domain

import (
	"strings"
	"time"
)

// Recipient is a community member subscribed to alerts in one region.
type Recipient struct {
	ID            string
	Email         string
	Phone         *string
	Region        Region
	EmailEnabled  bool
	SMSEnabled    bool
	EmergencyOnly bool
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasPhone reports whether the recipient carries a usable phone number.
func (r Recipient) HasPhone() bool {
	return r.Phone != nil && strings.TrimSpace(*r.Phone) != ""
}

// Eligible reports whether the recipient can be targeted at all: active and
// opted in to at least one channel.
func (r Recipient) Eligible() bool {
	return r.Active && (r.EmailEnabled || r.SMSEnabled)
}

// OptedInChannels returns the channels the recipient opted in to, in fallback
// order. Push is always included as the final fallback.
func (r Recipient) OptedInChannels() []Channel {
	channels := make([]Channel, 0, 3)
	if r.EmailEnabled {
		channels = append(channels, ChannelEmail)
	}
	if r.SMSEnabled {
		channels = append(channels, ChannelSMS)
	}
	channels = append(channels, ChannelPush)
	return channels
}
