package telegraph

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/systemaudit/winstaller/internal/installer"
	"github.com/systemaudit/winstaller/internal/ledger"
	"github.com/systemaudit/winstaller/internal/models"
	"github.com/systemaudit/winstaller/internal/notify"
	"github.com/systemaudit/winstaller/internal/users"
)

// commandPrefix is the prefix that triggers command handling.
const commandPrefix = "!wi"

// installStarter is the slice of the installer the handler needs.
type installStarter interface {
	Start(req installer.Request) (*models.Installation, <-chan installer.Result, error)
	Active(ip string) bool
}

// CommandHandler processes "!wi" commands from chat. Account state and
// installation records are read through the stores; installs run through
// the shared installer so chat and API runs share the same address locks.
type CommandHandler struct {
	users   *users.Store
	ledger  *ledger.Ledger
	inst    installStarter
	adapter Adapter
}

// CommandHandlerOpts holds parameters for creating a CommandHandler.
type CommandHandlerOpts struct {
	Users     *users.Store
	Ledger    *ledger.Ledger
	Installer installStarter
	Adapter   Adapter
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(opts CommandHandlerOpts) (*CommandHandler, error) {
	if opts.Users == nil || opts.Ledger == nil || opts.Installer == nil {
		return nil, fmt.Errorf("telegraph: command handler: users, ledger, and installer are required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: command handler: adapter is required")
	}
	return &CommandHandler{
		users:   opts.Users,
		ledger:  opts.Ledger,
		inst:    opts.Installer,
		adapter: opts.Adapter,
	}, nil
}

// Execute parses and executes a "!wi" command. Returns the response text
// to send back, or "" when the command already replied itself (install
// drives its own progress message).
func (ch *CommandHandler) Execute(ctx context.Context, msg InboundMessage) string {
	args := parseCommand(msg.Text)
	if len(args) == 0 {
		return helpText()
	}

	switch args[0] {
	case "register":
		return ch.cmdRegister(args[1:])
	case "login":
		return ch.cmdLogin(msg, args[1:])
	case "logout":
		return ch.cmdLogout(msg)
	case "install":
		return ch.cmdInstall(ctx, msg, args[1:])
	case "status":
		return ch.cmdStatus(msg, args[1:])
	case "active":
		return ch.cmdActive(msg)
	case "history":
		return ch.cmdHistory(msg)
	case "logs":
		return ch.cmdLogs(msg, args[1:])
	case "oslist":
		return formatOSList()
	case "help":
		return helpText()
	default:
		return fmt.Sprintf("Unknown command: `%s`\n\n%s", args[0], helpText())
	}
}

// parseCommand strips the "!wi" prefix and splits the remaining text.
func parseCommand(text string) []string {
	text = strings.TrimSpace(text)
	if text == commandPrefix {
		return nil
	}
	text = strings.TrimPrefix(text, commandPrefix+" ")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return strings.Fields(text)
}

// sessionUser resolves the logged-in account behind a chat message.
func (ch *CommandHandler) sessionUser(msg InboundMessage) (*models.User, string) {
	u, err := ch.users.SessionUser(msg.UserID)
	if errors.Is(err, users.ErrNoSession) {
		return nil, "You are not logged in. Use `!wi login <username> <password>` first."
	}
	if err != nil {
		return nil, fmt.Sprintf("Error resolving session: %v", err)
	}
	return u, ""
}

func (ch *CommandHandler) cmdRegister(args []string) string {
	if len(args) != 3 {
		return "Usage: `!wi register <username> <password> <activation_code>`"
	}
	u, err := ch.users.Register(args[0], args[1], args[2])
	switch {
	case errors.Is(err, users.ErrBadActivation):
		return "Invalid activation code."
	case errors.Is(err, users.ErrExists):
		return fmt.Sprintf("Username `%s` is already taken.", args[0])
	case err != nil:
		return fmt.Sprintf("Registration failed: %v", err)
	}
	return fmt.Sprintf("Account `%s` created. Use `!wi login %s <password>` to log in.", u.Username, u.Username)
}

func (ch *CommandHandler) cmdLogin(msg InboundMessage, args []string) string {
	if len(args) != 2 {
		return "Usage: `!wi login <username> <password>`"
	}
	u, err := ch.users.Authenticate(args[0], args[1])
	switch {
	case errors.Is(err, users.ErrBadCredentials):
		return "Invalid username or password."
	case errors.Is(err, users.ErrBanned):
		return "This account is banned."
	case err != nil:
		return fmt.Sprintf("Login failed: %v", err)
	}
	if err := ch.users.OpenSession(msg.UserID, u.ID); err != nil {
		return fmt.Sprintf("Login failed: %v", err)
	}
	// Linking the chat identity enables DM notifications for API installs.
	if err := ch.users.LinkChat(u.ID, msg.UserID); err != nil {
		log.Printf("telegraph: link chat for %s: %v", u.Username, err)
	}
	return fmt.Sprintf("Logged in as `%s`.", u.Username)
}

func (ch *CommandHandler) cmdLogout(msg InboundMessage) string {
	if err := ch.users.CloseSession(msg.UserID); err != nil {
		return fmt.Sprintf("Logout failed: %v", err)
	}
	return "Logged out."
}

// cmdInstall starts a run and live-edits a progress message until it ends.
// It replies through the adapter itself and returns "".
func (ch *CommandHandler) cmdInstall(ctx context.Context, msg InboundMessage, args []string) string {
	u, denied := ch.sessionUser(msg)
	if denied != "" {
		return denied
	}
	if len(args) < 3 || len(args) > 4 {
		return "Usage: `!wi install <ip> <ssh_password> <os_code> [rdp_password]`"
	}
	if !installer.ValidIP(args[0]) {
		return "Invalid IP address format."
	}
	if len(args) == 4 && !installer.ValidRDPPassword(args[3]) {
		return "RDP password requirements:\n- Minimum 8 characters\n- Must contain uppercase letter\n- Must contain lowercase letter\n- Must contain number"
	}
	req := installer.Request{
		UserID:      u.ID,
		IP:          args[0],
		SSHPassword: args[1],
		OSCode:      args[2],
		Source:      notify.SourceChat,
	}
	if len(args) == 4 {
		req.RDPPassword = args[3]
	}

	msgID, err := ch.adapter.Send(ctx, msg.ChannelID, "Starting installation...")
	if err != nil {
		log.Printf("telegraph: send progress message: %v", err)
		return fmt.Sprintf("Failed to post progress message: %v", err)
	}
	edit := func(text string) {
		if err := ch.adapter.Edit(ctx, msg.ChannelID, msgID, text); err != nil {
			log.Printf("telegraph: edit progress message: %v", err)
		}
	}
	req.Progress = func(status, message string) {
		edit(fmt.Sprintf("Installation: %s\n%s", status, message))
	}

	inst, done, err := ch.inst.Start(req)
	if err != nil {
		edit(fmt.Sprintf("Installation not started: %v", err))
		return ""
	}
	edit(fmt.Sprintf("Installation `%s` started for %s.", inst.ID, inst.IP))

	res := <-done
	edit(formatResult(inst, res))
	return ""
}

func (ch *CommandHandler) cmdStatus(msg InboundMessage, args []string) string {
	u, denied := ch.sessionUser(msg)
	if denied != "" {
		return denied
	}
	if len(args) != 1 {
		return "Usage: `!wi status <install_id>`"
	}
	inst, err := ch.ledger.Get(args[0])
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Sprintf("Installation `%s` not found.", args[0])
	}
	if err != nil {
		return fmt.Sprintf("Error fetching installation: %v", err)
	}
	if inst.UserID != u.ID && !u.IsAdmin {
		return "That installation belongs to another user."
	}
	return formatInstallation(inst)
}

func (ch *CommandHandler) cmdActive(msg InboundMessage) string {
	u, denied := ch.sessionUser(msg)
	if denied != "" {
		return denied
	}
	insts, err := ch.ledger.ActiveByOwner(u.ID)
	if err != nil {
		return fmt.Sprintf("Error listing installations: %v", err)
	}
	if len(insts) == 0 {
		return "No active installations."
	}
	return formatInstallList("Active installations", insts)
}

func (ch *CommandHandler) cmdHistory(msg InboundMessage) string {
	u, denied := ch.sessionUser(msg)
	if denied != "" {
		return denied
	}
	insts, err := ch.ledger.ListByOwner(u.ID, "", 10)
	if err != nil {
		return fmt.Sprintf("Error listing installations: %v", err)
	}
	if len(insts) == 0 {
		return "No installations yet."
	}
	return formatInstallList("Recent installations", insts)
}

func (ch *CommandHandler) cmdLogs(msg InboundMessage, args []string) string {
	u, denied := ch.sessionUser(msg)
	if denied != "" {
		return denied
	}
	if len(args) != 1 {
		return "Usage: `!wi logs <install_id>`"
	}
	inst, err := ch.ledger.Get(args[0])
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Sprintf("Installation `%s` not found.", args[0])
	}
	if err != nil {
		return fmt.Sprintf("Error fetching installation: %v", err)
	}
	if inst.UserID != u.ID && !u.IsAdmin {
		return "That installation belongs to another user."
	}
	return formatLogs(inst)
}
