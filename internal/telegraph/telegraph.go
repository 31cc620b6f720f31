package telegraph

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/systemaudit/winstaller/internal/ledger"
	"github.com/systemaudit/winstaller/internal/users"
)

// Daemon is the chat front-end process. It connects to a platform via an
// Adapter and pumps inbound messages through the Router until cancelled.
type Daemon struct {
	users   *users.Store
	ledger  *ledger.Ledger
	inst    installStarter
	adapter Adapter
	out     io.Writer
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Users     *users.Store
	Ledger    *ledger.Ledger
	Installer installStarter
	Adapter   Adapter
	Out       io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Users == nil || opts.Ledger == nil || opts.Installer == nil {
		return nil, fmt.Errorf("telegraph: users, ledger, and installer are required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: adapter is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Daemon{
		users:   opts.Users,
		ledger:  opts.Ledger,
		inst:    opts.Installer,
		adapter: opts.Adapter,
		out:     out,
	}, nil
}

// Run connects the adapter, builds the command handler and router, and
// blocks pumping inbound messages until the context is cancelled. On
// shutdown it closes the adapter gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Telegraph connecting...\n")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("telegraph: connect: %w", err)
	}

	var botUserID string
	if bui, ok := d.adapter.(BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	cmdHandler, err := NewCommandHandler(CommandHandlerOpts{
		Users:     d.users,
		Ledger:    d.ledger,
		Installer: d.inst,
		Adapter:   d.adapter,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: build command handler: %w", err)
	}

	router, err := NewRouter(RouterOpts{
		CmdHandler: cmdHandler,
		Adapter:    d.adapter,
		BotUserID:  botUserID,
		Out:        d.out,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: build router: %w", err)
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: listen: %w", err)
	}
	fmt.Fprintf(d.out, "Telegraph online\n")

	for {
		select {
		case <-ctx.Done():
			return d.adapter.Close()
		case msg, ok := <-inbound:
			if !ok {
				return d.adapter.Close()
			}
			// Installs block on their run, so each message gets its own
			// goroutine.
			go router.Handle(ctx, msg)
		}
	}
}
