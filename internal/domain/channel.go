package domain

import (
	"fmt"
	"strings"
)

// Channel represents a delivery medium.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelPush  Channel = "PUSH"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// AllChannels returns every delivery channel in fallback order: email first,
// then SMS, then push.
func AllChannels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelPush}
}
