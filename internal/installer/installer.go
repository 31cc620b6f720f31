// Package installer drives a Windows installation run through its phases:
// connect, check, prepare, install, monitor. Each run is one goroutine
// owning one SSH session; state transitions are persisted through the
// ledger and pushed to the owner's chat when appropriate.
package installer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/systemaudit/winstaller/internal/catalog"
	"github.com/systemaudit/winstaller/internal/config"
	"github.com/systemaudit/winstaller/internal/ledger"
	"github.com/systemaudit/winstaller/internal/models"
	"github.com/systemaudit/winstaller/internal/notify"
	"github.com/systemaudit/winstaller/internal/remote"
	"github.com/systemaudit/winstaller/internal/users"
)

// remoteRunner is the slice of the SSH client the orchestrator needs.
type remoteRunner interface {
	Connect(ctx context.Context, ip, password, user string) error
	CheckSpecs(ctx context.Context, ip string) remote.Specs
	Prepare(ctx context.Context, ip string) error
	StartInstall(ctx context.Context, ip, osCode, rdpPassword, bootMode string) (string, error)
	ProbePort(ip string, port int, timeout time.Duration) bool
	Disconnect(ip string)
}

// Request carries everything needed to start one run.
type Request struct {
	UserID      uint
	IP          string
	SSHPassword string
	SSHUser     string
	OSCode      string
	RDPPassword string
	Source      string // notify.SourceAPI or notify.SourceChat

	// Progress, when set, receives every step update for live display.
	Progress func(status, message string)
}

// Result is the terminal outcome of a run.
type Result struct {
	Status  string
	Message string
	RDP     *models.RDPInfo
}

// Opts configures an Installer.
type Opts struct {
	Ledger    *ledger.Ledger
	Users     *users.Store
	Remote    remoteRunner
	Publisher *notify.Publisher
	Install   config.InstallConfig
}

// Installer starts and supervises installation runs.
type Installer struct {
	ledger *ledger.Ledger
	users  *users.Store
	remote remoteRunner
	pub    *notify.Publisher
	cfg    config.InstallConfig
	locks  *addressLocks
}

// New creates an Installer from opts.
func New(opts Opts) *Installer {
	return &Installer{
		ledger: opts.Ledger,
		users:  opts.Users,
		remote: opts.Remote,
		pub:    opts.Publisher,
		cfg:    opts.Install,
		locks:  newAddressLocks(),
	}
}

// Start validates the request, claims the target address, creates the
// ledger record, and launches the run in its own goroutine. The returned
// channel delivers the single terminal Result and is then closed.
func (ins *Installer) Start(req Request) (*models.Installation, <-chan Result, error) {
	entry, ok := catalog.Lookup(req.OSCode)
	if !ok {
		return nil, nil, fmt.Errorf("installer: unknown OS code %q (known: %s)",
			req.OSCode, strings.Join(catalog.Codes(), ", "))
	}
	if req.IP == "" || req.SSHPassword == "" {
		return nil, nil, fmt.Errorf("installer: target address and password are required")
	}
	if !ValidIP(req.IP) {
		return nil, nil, fmt.Errorf("installer: invalid target address %q", req.IP)
	}
	if req.RDPPassword == "" {
		req.RDPPassword = req.SSHPassword
	}

	if err := ins.locks.acquire(req.IP); err != nil {
		return nil, nil, err
	}

	inst, err := ins.ledger.Create(req.UserID, req.IP, req.OSCode, entry.Name)
	if err != nil {
		ins.locks.release(req.IP)
		return nil, nil, err
	}
	ins.users.RecordInstall(req.UserID)

	done := make(chan Result, 1)
	go ins.run(inst, req, done)
	return inst, done, nil
}

// run executes the phase sequence. It never panics out: the outermost
// recover persists a failed status and tears the session down.
func (ins *Installer) run(inst *models.Installation, req Request, done chan<- Result) {
	ctx := context.Background()
	n := ins.pub.Bind(req.UserID, req.Source)
	n.Started(inst)

	var res Result
	defer func() {
		if r := recover(); r != nil {
			log.Printf("installer: run %s panicked: %v", inst.ID, r)
			reason := fmt.Sprintf("Unexpected error: %v", r)
			ins.ledger.UpdateStatus(inst.ID, models.StatusFailed, &ledger.StatusUpdate{Error: reason})
			n.Failed(inst, reason)
			res = Result{Status: models.StatusFailed, Message: reason}
		}
		ins.remote.Disconnect(req.IP)
		ins.locks.release(req.IP)
		ins.users.RecordOutcome(req.UserID, res.Status == models.StatusCompleted)
		done <- res
		close(done)
		log.Printf("installer: run %s finished: %s", inst.ID, res.Status)
	}()

	res = ins.phases(ctx, inst, req, n)
}

// phases walks the state machine and returns the terminal result.
func (ins *Installer) phases(ctx context.Context, inst *models.Installation, req Request, n *notify.Notifier) Result {
	fail := func(reason string) Result {
		ins.ledger.UpdateStatus(inst.ID, models.StatusFailed, &ledger.StatusUpdate{Error: reason})
		ins.progress(req, models.StatusFailed, reason)
		n.Failed(inst, reason)
		return Result{Status: models.StatusFailed, Message: reason}
	}
	advance := func(status, step string) {
		ins.ledger.UpdateStatus(inst.ID, status, nil)
		ins.ledger.UpdateStep(inst.ID, step)
		ins.progress(req, status, step)
		n.Progress(inst, status)
	}

	// connecting
	advance(models.StatusConnecting, "Connecting to server")
	if err := ins.remote.Connect(ctx, req.IP, req.SSHPassword, req.SSHUser); err != nil {
		switch {
		case errors.Is(err, remote.ErrAuth):
			return fail("SSH authentication failed")
		case errors.Is(err, remote.ErrUnreachable):
			return fail("Failed to connect to server")
		default:
			return fail("Connection error: " + err.Error())
		}
	}

	// checking
	advance(models.StatusChecking, "Checking system requirements")
	specs := ins.remote.CheckSpecs(ctx, req.IP)
	ins.ledger.AppendLog(inst.ID, fmt.Sprintf("Detected: %d MB RAM, %d GB disk, %d cores, os=%s, boot=%s",
		specs.RAMMB, specs.DiskGB, specs.CPUCores, specs.OSType, specs.BootMode))
	if specs.RAMMB < ins.cfg.MinRAMMB {
		return fail(fmt.Sprintf("Insufficient RAM: %d MB (minimum %d MB)", specs.RAMMB, ins.cfg.MinRAMMB))
	}
	if specs.DiskGB < ins.cfg.MinDiskGB {
		return fail(fmt.Sprintf("Insufficient disk space: %d GB (minimum %d GB)", specs.DiskGB, ins.cfg.MinDiskGB))
	}
	if !supportedOS(specs.OSType) {
		return fail(fmt.Sprintf("Unsupported OS: %s (supported: ubuntu, debian)", specs.OSType))
	}
	ins.ledger.SetBootMode(inst.ID, specs.BootMode)
	inst.BootMode = specs.BootMode

	// preparing
	advance(models.StatusPreparing, "Preparing installation files")
	if err := ins.remote.Prepare(ctx, req.IP); err != nil {
		log.Printf("installer: prepare %s: %v", inst.ID, err)
		return fail("Failed to prepare installation files")
	}

	// installing
	advance(models.StatusInstalling, "Starting Windows installation")
	msg, err := ins.remote.StartInstall(ctx, req.IP, req.OSCode, req.RDPPassword, specs.BootMode)
	if err != nil {
		return fail(notify.Truncate(err.Error(), 200))
	}
	ins.ledger.AppendLog(inst.ID, msg)

	// monitoring; the SSH session is useless once the host reboots
	ins.remote.Disconnect(req.IP)
	advance(models.StatusMonitoring, "Monitoring installation progress")
	return ins.monitor(ctx, inst, req, n)
}

// progress feeds the optional live-progress handle. Nil-safe.
func (ins *Installer) progress(req Request, status, message string) {
	if req.Progress != nil {
		req.Progress(status, message)
	}
}

// Active reports whether a run currently holds the address.
func (ins *Installer) Active(ip string) bool {
	if err := ins.locks.acquire(ip); err != nil {
		return true
	}
	ins.locks.release(ip)
	return false
}

func supportedOS(osType string) bool {
	switch osType {
	case "ubuntu", "debian":
		return true
	}
	return false
}
