// Package notify pushes installation lifecycle events to a user's linked
// chat account. Delivery is best effort: a failed or gated notification
// never affects the installation run that emitted it.
package notify

import (
	"fmt"
	"log"
	"strings"

	"github.com/systemaudit/winstaller/internal/models"
)

// SourceAPI and SourceChat identify where an installation was requested
// from. Chat-initiated runs already get responses in their channel, so only
// API-initiated runs are pushed to chat.
const (
	SourceAPI  = "api"
	SourceChat = "chat"
)

// errTruncateLen caps how much of a failure reason is pushed to chat.
const errTruncateLen = 200

// Sink delivers one direct message to a chat account.
type Sink interface {
	SendDM(chatID, message string) error
}

// ChatResolver maps an owner to their linked chat account, if any.
type ChatResolver func(userID uint) (chatID string, ok bool)

// Opts configures a Publisher.
type Opts struct {
	Sink    Sink
	Resolve ChatResolver
}

// Publisher binds per-run notifiers. A nil Sink or Resolve disables
// delivery entirely.
type Publisher struct {
	sink    Sink
	resolve ChatResolver
}

// NewPublisher creates a Publisher from opts.
func NewPublisher(opts Opts) *Publisher {
	return &Publisher{sink: opts.Sink, resolve: opts.Resolve}
}

// Bind resolves the delivery target for one installation run. The returned
// Notifier is a no-op when the run was chat-initiated, the user has no
// linked chat, or the publisher has no sink.
func (p *Publisher) Bind(userID uint, source string) *Notifier {
	n := &Notifier{}
	if p == nil || p.sink == nil || p.resolve == nil || source != SourceAPI {
		return n
	}
	chatID, ok := p.resolve(userID)
	if !ok || chatID == "" {
		return n
	}
	n.sink = p.sink
	n.chatID = chatID
	return n
}

// Notifier emits events for a single installation run.
type Notifier struct {
	sink   Sink
	chatID string
}

func (n *Notifier) send(message string) {
	if n == nil || n.sink == nil {
		return
	}
	if err := n.sink.SendDM(n.chatID, message); err != nil {
		log.Printf("notify: send to %s: %v", n.chatID, err)
	}
}

// Started announces a new run.
func (n *Notifier) Started(inst *models.Installation) {
	n.send(fmt.Sprintf("🚀 Installation %s started\nTarget: %s\nOS: %s", inst.ID, inst.IP, inst.OSName))
}

// Progress announces a phase transition. Only the long-running phases are
// pushed; the short ones would just be noise.
func (n *Notifier) Progress(inst *models.Installation, status string) {
	switch status {
	case models.StatusChecking, models.StatusInstalling, models.StatusMonitoring:
	default:
		return
	}
	n.send(fmt.Sprintf("⏳ Installation %s: %s", inst.ID, status))
}

// Completed announces success with the RDP connection tuple.
func (n *Notifier) Completed(inst *models.Installation, rdp *models.RDPInfo) {
	msg := fmt.Sprintf("✅ Installation %s completed\n%s", inst.ID, formatRDP(rdp))
	n.send(msg)
}

// Failed announces a failure. The reason is truncated so a shell dump in
// the error never floods the chat.
func (n *Notifier) Failed(inst *models.Installation, reason string) {
	n.send(fmt.Sprintf("❌ Installation %s failed\nReason: %s", inst.ID, Truncate(reason, errTruncateLen)))
}

// Timeout announces that monitoring gave up. The install may still have
// succeeded, so the speculative RDP tuple is included.
func (n *Notifier) Timeout(inst *models.Installation, rdp *models.RDPInfo) {
	msg := fmt.Sprintf("⚠️ Installation %s timed out\nThe install may still finish. Try connecting later:\n%s",
		inst.ID, formatRDP(rdp))
	n.send(msg)
}

func formatRDP(rdp *models.RDPInfo) string {
	if rdp == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "RDP: %s:%d\n", rdp.IP, rdp.Port)
	fmt.Fprintf(&b, "Username: %s\n", rdp.Username)
	fmt.Fprintf(&b, "Password: %s", rdp.Password)
	return b.String()
}

// Truncate cuts s at limit runes, appending an ellipsis marker.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
