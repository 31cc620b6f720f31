package telegraph

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Router filters inbound chat messages and hands "!wi" commands to the
// command handler. Everything else, including the bot's own messages, is
// ignored.
type Router struct {
	cmdHandler *CommandHandler
	adapter    Adapter
	botUserID  string
	out        io.Writer
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	CmdHandler *CommandHandler
	Adapter    Adapter
	BotUserID  string    // bot's user ID for self-message filtering
	Out        io.Writer // defaults to os.Stdout
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.CmdHandler == nil {
		return nil, fmt.Errorf("telegraph: router: command handler is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: router: adapter is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Router{
		cmdHandler: opts.CmdHandler,
		adapter:    opts.Adapter,
		botUserID:  opts.BotUserID,
		out:        out,
	}, nil
}

// Handle routes a single inbound message. Only "!wi"-prefixed messages from
// other users are acted on.
func (r *Router) Handle(ctx context.Context, msg InboundMessage) {
	if msg.UserID != "" && msg.UserID == r.botUserID {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text != commandPrefix && !strings.HasPrefix(text, commandPrefix+" ") {
		return
	}
	fmt.Fprintf(r.out, "telegraph: router: recv [ch=%s user=%s] %q\n",
		msg.ChannelID, msg.UserName, truncate(text, 80))

	reply := r.cmdHandler.Execute(ctx, msg)
	if reply == "" {
		return
	}
	if _, err := r.adapter.Send(ctx, msg.ChannelID, reply); err != nil {
		log.Printf("telegraph: router: send reply: %v", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
