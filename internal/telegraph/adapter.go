// Package telegraph bridges the installer to chat platforms (Discord,
// Slack). Users drive installations with "!wi" commands and watch progress
// through live message edits.
package telegraph

import (
	"context"
	"time"
)

// Adapter is the interface that platform-specific implementations must
// satisfy. Each adapter handles connection management and message traffic
// for a single chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the context is cancelled or the adapter
	// is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send posts a message to a channel and returns its platform message
	// ID so it can later be edited.
	Send(ctx context.Context, channelID, text string) (messageID string, err error)

	// Edit replaces the text of a previously sent message.
	Edit(ctx context.Context, channelID, messageID, text string) error

	// SendDM delivers a direct message to a platform user. This is also
	// the notification sink for API-initiated installs.
	SendDM(chatID, text string) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}

// InboundMessage represents a message received from the chat platform.
type InboundMessage struct {
	Platform  string    // e.g. "slack", "discord"
	ChannelID string    // platform-specific channel identifier
	UserID    string    // platform-specific user identifier
	UserName  string    // human-readable username
	Text      string    // raw message text
	Timestamp time.Time // when the message was sent
}
