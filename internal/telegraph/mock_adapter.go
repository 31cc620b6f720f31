package telegraph

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// SentMessage records one Send or Edit made against the MockAdapter.
type SentMessage struct {
	ChannelID string
	MessageID string
	Text      string
	Edited    bool
}

// MockAdapter implements Adapter for testing. It records sent messages,
// edits, and DMs, and allows simulating inbound messages.
type MockAdapter struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	inbound   chan InboundMessage
	sent      []SentMessage
	dms       map[string][]string
	botUserID string
	nextID    int
}

// NewMockAdapter creates a MockAdapter with a buffered inbound channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		inbound: make(chan InboundMessage, 100),
		dms:     make(map[string][]string),
	}
}

// BotUserID returns the configured bot user ID (implements BotUserIDer).
func (m *MockAdapter) BotUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

// SetBotUserID sets the bot user ID for testing.
func (m *MockAdapter) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound message channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	return m.inbound, nil
}

// Send records the message and assigns it a sequential message ID.
func (m *MockAdapter) Send(ctx context.Context, channelID, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := strconv.Itoa(m.nextID)
	m.sent = append(m.sent, SentMessage{ChannelID: channelID, MessageID: id, Text: text})
	return id, nil
}

// Edit records the edit.
func (m *MockAdapter) Edit(ctx context.Context, channelID, messageID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMessage{ChannelID: channelID, MessageID: messageID, Text: text, Edited: true})
	return nil
}

// SendDM records the direct message.
func (m *MockAdapter) SendDM(chatID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dms[chatID] = append(m.dms[chatID], text)
	return nil
}

// Close shuts down the mock adapter and closes the inbound channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// SimulateInbound injects an inbound message as if the platform sent it.
func (m *MockAdapter) SimulateInbound(msg InboundMessage) {
	m.inbound <- msg
}

// Sent returns a copy of every recorded Send and Edit.
func (m *MockAdapter) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// DMs returns the direct messages delivered to a chat identity.
func (m *MockAdapter) DMs(chatID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.dms[chatID]...)
}
