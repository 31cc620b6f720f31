package discord

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

// mockSession implements the session interface and records API calls.
type mockSession struct {
	opened   bool
	closed   bool
	sent     []string // "channelID:content"
	edited   []string // "channelID:messageID:content"
	dmUsers  []string
	handlers []interface{}
	nextID   int
}

func (m *mockSession) Open() error  { m.opened = true; return nil }
func (m *mockSession) Close() error { m.closed = true; return nil }
func (m *mockSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.nextID++
	m.sent = append(m.sent, channelID+":"+content)
	return &discordgo.Message{ID: "m" + strconv.Itoa(m.nextID), ChannelID: channelID, Content: content}, nil
}
func (m *mockSession) ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.edited = append(m.edited, channelID+":"+messageID+":"+content)
	return &discordgo.Message{ID: messageID}, nil
}
func (m *mockSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	m.dmUsers = append(m.dmUsers, recipientID)
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}
func (m *mockSession) AddHandler(handler interface{}) func() {
	m.handlers = append(m.handlers, handler)
	return func() {}
}

func connectedAdapter(t *testing.T) (*Adapter, *mockSession) {
	t.Helper()
	sess := &mockSession{}
	a, err := New(AdapterOpts{Session: sess})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	return a, sess
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(AdapterOpts{}); err == nil {
		t.Error("New() = nil, want missing token error")
	}
}

func TestSendReturnsMessageID(t *testing.T) {
	a, sess := connectedAdapter(t)
	id, err := a.Send(context.Background(), "chan-1", "hello")
	if err != nil {
		t.Fatalf("Send() = %v", err)
	}
	if id == "" {
		t.Error("Send() returned empty message ID")
	}
	if len(sess.sent) != 1 || sess.sent[0] != "chan-1:hello" {
		t.Errorf("sent = %v", sess.sent)
	}
}

func TestSendRequiresChannel(t *testing.T) {
	a, _ := connectedAdapter(t)
	if _, err := a.Send(context.Background(), "", "hello"); err == nil {
		t.Error("Send() without channel = nil, want error")
	}
}

func TestEdit(t *testing.T) {
	a, sess := connectedAdapter(t)
	if err := a.Edit(context.Background(), "chan-1", "m1", "updated"); err != nil {
		t.Fatalf("Edit() = %v", err)
	}
	if len(sess.edited) != 1 || sess.edited[0] != "chan-1:m1:updated" {
		t.Errorf("edited = %v", sess.edited)
	}
}

func TestSendDM(t *testing.T) {
	a, sess := connectedAdapter(t)
	if err := a.SendDM("user-9", "psst"); err != nil {
		t.Fatalf("SendDM() = %v", err)
	}
	if len(sess.dmUsers) != 1 || sess.dmUsers[0] != "user-9" {
		t.Errorf("dmUsers = %v", sess.dmUsers)
	}
	if len(sess.sent) != 1 || sess.sent[0] != "dm-user-9:psst" {
		t.Errorf("sent = %v", sess.sent)
	}
}

func TestNotConnectedErrors(t *testing.T) {
	a, err := New(AdapterOpts{Session: &mockSession{}})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if _, err := a.Send(context.Background(), "c", "x"); err == nil {
		t.Error("Send() before Connect = nil, want error")
	}
	if err := a.SendDM("u", "x"); err == nil {
		t.Error("SendDM() before Connect = nil, want error")
	}
}

func TestHandleMessageFiltersBots(t *testing.T) {
	a, _ := connectedAdapter(t)
	a.SetBotUserID("bot-1")
	inbound, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("Listen() = %v", err)
	}

	now := time.Now()
	a.handleMessage(&discordgo.MessageCreate{Message: &discordgo.Message{
		ChannelID: "c", Content: "!wi help", Timestamp: now,
		Author: &discordgo.User{ID: "bot-1", Username: "winstaller"},
	}})
	a.handleMessage(&discordgo.MessageCreate{Message: &discordgo.Message{
		ChannelID: "c", Content: "beep", Timestamp: now,
		Author: &discordgo.User{ID: "other-bot", Username: "robo", Bot: true},
	}})
	a.handleMessage(&discordgo.MessageCreate{Message: &discordgo.Message{
		ChannelID: "c", Content: "!wi help", Timestamp: now,
		Author: &discordgo.User{ID: "u1", Username: "alice"},
	}})

	select {
	case msg := <-inbound:
		if msg.UserID != "u1" || msg.Platform != "discord" {
			t.Errorf("inbound = %+v, want alice's message", msg)
		}
	default:
		t.Fatal("human message was not forwarded")
	}
	select {
	case msg := <-inbound:
		t.Errorf("unexpected extra inbound message: %+v", msg)
	default:
	}
}

func TestCloseIdempotent(t *testing.T) {
	a, sess := connectedAdapter(t)
	if err := a.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if !sess.closed {
		t.Error("session not closed")
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if err := a.Connect(context.Background()); err == nil {
		t.Error("Connect() after Close = nil, want error")
	}
}
