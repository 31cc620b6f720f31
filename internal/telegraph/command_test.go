package telegraph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/systemaudit/winstaller/internal/db"
	"github.com/systemaudit/winstaller/internal/installer"
	"github.com/systemaudit/winstaller/internal/ledger"
	"github.com/systemaudit/winstaller/internal/models"
	"github.com/systemaudit/winstaller/internal/notify"
	"github.com/systemaudit/winstaller/internal/users"
)

// fakeStarter scripts the installer's behavior for command tests.
type fakeStarter struct {
	startErr error
	result   installer.Result
	lastReq  installer.Request
	busy     bool
}

func (f *fakeStarter) Start(req installer.Request) (*models.Installation, <-chan installer.Result, error) {
	f.lastReq = req
	if f.startErr != nil {
		return nil, nil, f.startErr
	}
	if req.Progress != nil {
		req.Progress(models.StatusConnecting, "Connecting to server")
	}
	ch := make(chan installer.Result, 1)
	ch <- f.result
	close(ch)
	inst := &models.Installation{ID: "install_1_abcd1234", UserID: req.UserID, IP: req.IP}
	return inst, ch, nil
}

func (f *fakeStarter) Active(ip string) bool { return f.busy }

type cmdFixture struct {
	handler *CommandHandler
	users   *users.Store
	ledger  *ledger.Ledger
	starter *fakeStarter
	adapter *MockAdapter
}

func newCmdFixture(t *testing.T) *cmdFixture {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := users.NewStore(users.Opts{DB: gdb, ActivationCode: "letmein"})
	led := ledger.New(gdb)
	starter := &fakeStarter{result: installer.Result{Status: models.StatusCompleted, Message: "done"}}
	adapter := NewMockAdapter()
	adapter.Connect(context.Background())

	handler, err := NewCommandHandler(CommandHandlerOpts{
		Users: store, Ledger: led, Installer: starter, Adapter: adapter,
	})
	if err != nil {
		t.Fatalf("NewCommandHandler() = %v", err)
	}
	return &cmdFixture{handler: handler, users: store, ledger: led, starter: starter, adapter: adapter}
}

func msg(userID, text string) InboundMessage {
	return InboundMessage{Platform: "discord", ChannelID: "chan-1", UserID: userID, UserName: "tester", Text: text}
}

// login registers and logs a user in, returning the account.
func (f *cmdFixture) login(t *testing.T, chatID string) *models.User {
	t.Helper()
	ctx := context.Background()
	f.handler.Execute(ctx, msg(chatID, "!wi register alice hunter2 letmein"))
	reply := f.handler.Execute(ctx, msg(chatID, "!wi login alice hunter2"))
	if !strings.Contains(reply, "Logged in") {
		t.Fatalf("login reply = %q", reply)
	}
	u, err := f.users.ByChatID(chatID)
	if err != nil {
		t.Fatalf("user not linked to chat: %v", err)
	}
	return u
}

func TestRegisterAndLogin(t *testing.T) {
	f := newCmdFixture(t)
	ctx := context.Background()

	reply := f.handler.Execute(ctx, msg("u1", "!wi register alice hunter2 wrong"))
	if !strings.Contains(reply, "Invalid activation code") {
		t.Errorf("bad code reply = %q", reply)
	}

	reply = f.handler.Execute(ctx, msg("u1", "!wi register alice hunter2 letmein"))
	if !strings.Contains(reply, "created") {
		t.Errorf("register reply = %q", reply)
	}
	reply = f.handler.Execute(ctx, msg("u1", "!wi login alice wrong"))
	if !strings.Contains(reply, "Invalid username or password") {
		t.Errorf("bad password reply = %q", reply)
	}
	reply = f.handler.Execute(ctx, msg("u1", "!wi login alice hunter2"))
	if !strings.Contains(reply, "Logged in as `alice`") {
		t.Errorf("login reply = %q", reply)
	}

	// Logging in links the chat identity for DM notifications.
	u, err := f.users.ByChatID("u1")
	if err != nil || u.Username != "alice" {
		t.Errorf("ByChatID() = %v, %v, want alice", u, err)
	}

	reply = f.handler.Execute(ctx, msg("u1", "!wi logout"))
	if reply != "Logged out." {
		t.Errorf("logout reply = %q", reply)
	}
	reply = f.handler.Execute(ctx, msg("u1", "!wi active"))
	if !strings.Contains(reply, "not logged in") {
		t.Errorf("post-logout reply = %q", reply)
	}
}

func TestInstallRequiresLogin(t *testing.T) {
	f := newCmdFixture(t)
	reply := f.handler.Execute(context.Background(), msg("u1", "!wi install 10.0.0.1 pw w11pro"))
	if !strings.Contains(reply, "not logged in") {
		t.Errorf("reply = %q, want login prompt", reply)
	}
}

func TestInstallRejectsBadInput(t *testing.T) {
	f := newCmdFixture(t)
	f.login(t, "u1")
	ctx := context.Background()

	reply := f.handler.Execute(ctx, msg("u1", "!wi install not-an-ip pw w11pro"))
	if !strings.Contains(reply, "Invalid IP") {
		t.Errorf("bad ip reply = %q, want IP format error", reply)
	}

	reply = f.handler.Execute(ctx, msg("u1", "!wi install 10.0.0.1 pw w11pro weak"))
	if !strings.Contains(reply, "Minimum 8 characters") {
		t.Errorf("weak password reply = %q, want password requirements", reply)
	}
}

func TestInstallLiveProgress(t *testing.T) {
	f := newCmdFixture(t)
	u := f.login(t, "u1")
	f.starter.result = installer.Result{
		Status: models.StatusCompleted,
		RDP:    &models.RDPInfo{IP: "10.0.0.1", Port: models.RDPPort, Username: models.RDPUsername, Password: "Winpass7"},
	}

	reply := f.handler.Execute(context.Background(), msg("u1", "!wi install 10.0.0.1 sshpw w11pro Winpass7"))
	if reply != "" {
		t.Errorf("install reply = %q, want empty (already responded)", reply)
	}

	if f.starter.lastReq.UserID != u.ID {
		t.Errorf("request user = %d, want %d", f.starter.lastReq.UserID, u.ID)
	}
	if f.starter.lastReq.Source != notify.SourceChat {
		t.Errorf("request source = %q, want %q", f.starter.lastReq.Source, notify.SourceChat)
	}
	if f.starter.lastReq.RDPPassword != "Winpass7" {
		t.Errorf("request rdp password = %q, want Winpass7", f.starter.lastReq.RDPPassword)
	}

	sent := f.adapter.Sent()
	if len(sent) < 3 {
		t.Fatalf("recorded %d messages, want initial send plus edits", len(sent))
	}
	if sent[0].Edited {
		t.Error("first message should be a fresh send")
	}
	final := sent[len(sent)-1]
	if !final.Edited || !strings.Contains(final.Text, "completed") || !strings.Contains(final.Text, "10.0.0.1:22") {
		t.Errorf("final edit = %+v, want completion with RDP tuple", final)
	}
}

func TestInstallStartRejected(t *testing.T) {
	f := newCmdFixture(t)
	f.login(t, "u1")
	f.starter.startErr = errors.New("installer: installation already in progress for 10.0.0.1")

	reply := f.handler.Execute(context.Background(), msg("u1", "!wi install 10.0.0.1 pw w11pro"))
	if reply != "" {
		t.Errorf("reply = %q, want empty", reply)
	}
	sent := f.adapter.Sent()
	final := sent[len(sent)-1]
	if !strings.Contains(final.Text, "already in progress") {
		t.Errorf("final message = %q, want rejection reason", final.Text)
	}
}

func TestStatusOwnership(t *testing.T) {
	f := newCmdFixture(t)
	u := f.login(t, "u1")
	ctx := context.Background()

	mine, _ := f.ledger.Create(u.ID, "10.0.0.1", "w11pro", "Windows 11 Pro")
	other, _ := f.ledger.Create(u.ID+1, "10.0.0.2", "w11pro", "Windows 11 Pro")

	reply := f.handler.Execute(ctx, msg("u1", "!wi status "+mine.ID))
	if !strings.Contains(reply, mine.ID) || !strings.Contains(reply, "starting") {
		t.Errorf("status reply = %q", reply)
	}
	reply = f.handler.Execute(ctx, msg("u1", "!wi status "+other.ID))
	if !strings.Contains(reply, "another user") {
		t.Errorf("foreign status reply = %q, want denial", reply)
	}
	reply = f.handler.Execute(ctx, msg("u1", "!wi status install_9_missing1"))
	if !strings.Contains(reply, "not found") {
		t.Errorf("missing status reply = %q", reply)
	}
}

func TestActiveAndHistory(t *testing.T) {
	f := newCmdFixture(t)
	u := f.login(t, "u1")
	ctx := context.Background()

	if reply := f.handler.Execute(ctx, msg("u1", "!wi active")); reply != "No active installations." {
		t.Errorf("empty active reply = %q", reply)
	}

	run, _ := f.ledger.Create(u.ID, "10.0.0.1", "w11pro", "Windows 11 Pro")
	done, _ := f.ledger.Create(u.ID, "10.0.0.2", "ws2022", "Windows Server 2022")
	f.ledger.UpdateStatus(done.ID, models.StatusCompleted, nil)

	reply := f.handler.Execute(ctx, msg("u1", "!wi active"))
	if !strings.Contains(reply, run.ID) || strings.Contains(reply, done.ID) {
		t.Errorf("active reply = %q, want only the running install", reply)
	}
	reply = f.handler.Execute(ctx, msg("u1", "!wi history"))
	if !strings.Contains(reply, run.ID) || !strings.Contains(reply, done.ID) {
		t.Errorf("history reply = %q, want both installs", reply)
	}
}

func TestLogsCommand(t *testing.T) {
	f := newCmdFixture(t)
	u := f.login(t, "u1")

	inst, _ := f.ledger.Create(u.ID, "10.0.0.1", "w11pro", "Windows 11 Pro")
	f.ledger.AppendLog(inst.ID, "Connecting to server")

	reply := f.handler.Execute(context.Background(), msg("u1", "!wi logs "+inst.ID))
	if !strings.Contains(reply, "Connecting to server") {
		t.Errorf("logs reply = %q", reply)
	}
}

func TestOSListAndHelp(t *testing.T) {
	f := newCmdFixture(t)
	ctx := context.Background()

	reply := f.handler.Execute(ctx, msg("u1", "!wi oslist"))
	for _, code := range []string{"w11pro", "ws2022", "w11atlas"} {
		if !strings.Contains(reply, code) {
			t.Errorf("oslist missing %q", code)
		}
	}

	help := f.handler.Execute(ctx, msg("u1", "!wi help"))
	if !strings.Contains(help, "!wi install") {
		t.Errorf("help = %q", help)
	}
	if got := f.handler.Execute(ctx, msg("u1", "!wi bogus")); !strings.Contains(got, "Unknown command") {
		t.Errorf("unknown command reply = %q", got)
	}
	if got := f.handler.Execute(ctx, msg("u1", "!wi")); !strings.Contains(got, "!wi install") {
		t.Errorf("bare prefix reply = %q", got)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"!wi", nil},
		{"!wi ", nil},
		{"!wi help", []string{"help"}},
		{"  !wi install 1.2.3.4 pw w10  ", []string{"install", "1.2.3.4", "pw", "w10"}},
	}
	for _, tt := range tests {
		got := parseCommand(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("parseCommand(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("parseCommand(%q) = %v, want %v", tt.in, got, tt.want)
			}
		}
	}
}
