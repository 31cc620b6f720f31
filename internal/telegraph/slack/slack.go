// Package slack implements the telegraph Adapter for Slack using Socket Mode.
package slack

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/systemaudit/winstaller/internal/telegraph"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	UpdateMessage(channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error)
	OpenConversation(params *slackapi.OpenConversationParameters) (*slackapi.Channel, bool, bool, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) Run() error                        { return r.client.Run() }
func (r *realSocketClient) EventsChan() chan socketmode.Event { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Adapter implements telegraph.Adapter for Slack Socket Mode.
type Adapter struct {
	client    slackClient
	socket    socketClient
	botUserID string
	appToken  string
	botToken  string
	channelID string // default channel for messages
	mu        sync.Mutex
	connected bool
	closed    bool
	inbound   chan telegraph.InboundMessage
	cancel    context.CancelFunc
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken  string // xapp-... Slack app-level token for Socket Mode
	BotToken  string // xoxb-... Slack bot token
	ChannelID string // default channel to post to
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	a := &Adapter{
		appToken:  opts.AppToken,
		botToken:  opts.BotToken,
		channelID: opts.ChannelID,
		inbound:   make(chan telegraph.InboundMessage, 100),
	}
	if opts.Client != nil {
		a.client = opts.Client
	}
	if opts.Socket != nil {
		a.socket = opts.Socket
	}
	return a, nil
}

// Connect establishes the Socket Mode WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real clients if not injected (production path).
	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = &realSocketClient{client: socketmode.New(api)}
	}

	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID
	log.Printf("slack: connected as %s (ID: %s)", auth.User, auth.UserID)

	go func() {
		if err := a.socket.Run(); err != nil {
			log.Printf("slack: socket mode run: %v", err)
		}
	}()

	a.connected = true
	return nil
}

// Listen starts the event pump and returns the inbound message channel.
// Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("slack: not connected")
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	go func() {
		for {
			select {
			case <-pumpCtx.Done():
				return
			case evt, ok := <-a.socket.EventsChan():
				if !ok {
					return
				}
				a.handleSocketEvent(evt)
			}
		}
	}()
	return a.inbound, nil
}

// Send posts a message and returns its Slack timestamp as the message ID.
func (a *Adapter) Send(ctx context.Context, channelID, text string) (string, error) {
	if err := a.requireConnected(); err != nil {
		return "", err
	}
	if channelID == "" {
		channelID = a.channelID
	}
	if channelID == "" {
		return "", fmt.Errorf("slack: no channel specified")
	}
	_, ts, err := a.client.PostMessage(channelID, slackapi.MsgOptionText(text, false))
	if err != nil {
		return "", fmt.Errorf("slack: send message: %w", err)
	}
	return ts, nil
}

// Edit replaces a previously sent message. messageID is the Slack message
// timestamp returned from Send.
func (a *Adapter) Edit(ctx context.Context, channelID, messageID, text string) error {
	if err := a.requireConnected(); err != nil {
		return err
	}
	if _, _, _, err := a.client.UpdateMessage(channelID, messageID, slackapi.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("slack: edit message: %w", err)
	}
	return nil
}

// SendDM opens (or reuses) the IM conversation with a user and posts there.
func (a *Adapter) SendDM(chatID, text string) error {
	if err := a.requireConnected(); err != nil {
		return err
	}
	ch, _, _, err := a.client.OpenConversation(&slackapi.OpenConversationParameters{
		Users:    []string{chatID},
		ReturnIM: true,
	})
	if err != nil {
		return fmt.Errorf("slack: open im: %w", err)
	}
	if _, _, err := a.client.PostMessage(ch.ID, slackapi.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("slack: send dm: %w", err)
	}
	return nil
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancel != nil {
		a.cancel()
	}
	close(a.inbound)
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func (a *Adapter) requireConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("slack: not connected")
	}
	return nil
}

// handleSocketEvent acks and dispatches one Socket Mode event.
func (a *Adapter) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		a.handleEventsAPI(apiEvent)
	case socketmode.EventTypeConnecting:
		log.Printf("slack: socket mode connecting")
	case socketmode.EventTypeConnected:
		log.Printf("slack: socket mode connected")
	case socketmode.EventTypeConnectionError:
		log.Printf("slack: socket mode connection error")
	case socketmode.EventTypeDisconnect:
		log.Printf("slack: socket mode disconnected, client will reconnect")
	}
}

func (a *Adapter) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	a.handleMessage(ev)
}

// handleMessage converts a Slack message event to an InboundMessage.
func (a *Adapter) handleMessage(ev *slackevents.MessageEvent) {
	// Skip bot posts and message edits/deletions.
	if ev.BotID != "" || ev.SubType != "" {
		return
	}
	a.mu.Lock()
	botID := a.botUserID
	closed := a.closed
	a.mu.Unlock()
	if closed || ev.User == "" || ev.User == botID {
		return
	}

	msg := telegraph.InboundMessage{
		Platform:  "slack",
		ChannelID: ev.Channel,
		UserID:    ev.User,
		UserName:  ev.User, // display names need an extra API call; the ID suffices
		Text:      ev.Text,
		Timestamp: parseSlackTimestamp(ev.TimeStamp),
	}
	select {
	case a.inbound <- msg:
	default:
		log.Printf("slack: inbound buffer full, dropping message from %s", ev.User)
	}
}

// parseSlackTimestamp converts Slack's "1234567890.123456" format.
func parseSlackTimestamp(ts string) time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Now()
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
