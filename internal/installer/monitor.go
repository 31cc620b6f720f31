package installer

import (
	"context"
	"fmt"
	"time"

	"github.com/systemaudit/winstaller/internal/ledger"
	"github.com/systemaudit/winstaller/internal/models"
	"github.com/systemaudit/winstaller/internal/notify"
)

// probeTimeout bounds a single monitoring port probe.
const probeTimeout = 5 * time.Second

// monitor waits out the image write, then polls the monitoring port until
// it goes dark. There is no in-band completion signal from inside the
// guest: the old OS's service port staying closed for consecutive polls is
// the only evidence that the reboot into Windows happened.
func (ins *Installer) monitor(ctx context.Context, inst *models.Installation, req Request, n *notify.Notifier) Result {
	budget := ins.cfg.RunTimeout() - ins.cfg.MonitorDelay()

	ins.ledger.AppendLog(inst.ID, fmt.Sprintf("Waiting %s before monitoring port %d",
		ins.cfg.MonitorDelay(), ins.cfg.MonitorPort))
	if !sleep(ctx, ins.cfg.MonitorDelay()) {
		return ins.timeout(inst, req, n)
	}

	// The polling window starts once the settle delay has elapsed, so the
	// delay never eats into it.
	entered := time.Now()
	misses := 0
	for time.Since(entered) < budget {
		if ins.remote.ProbePort(req.IP, ins.cfg.MonitorPort, probeTimeout) {
			misses = 0
		} else {
			misses++
			ins.ledger.AppendLog(inst.ID, fmt.Sprintf("Port %d closed (%d/%d)",
				ins.cfg.MonitorPort, misses, ins.cfg.MonitorChecks))
			if misses >= ins.cfg.MonitorChecks {
				return ins.completed(inst, req, n)
			}
		}
		if !sleep(ctx, ins.cfg.MonitorInterval()) {
			break
		}
	}
	return ins.timeout(inst, req, n)
}

// rdpPayload is the connection tuple handed back to the owner. The port is
// fixed and the username is what the installer script provisions.
func rdpPayload(req Request) *models.RDPInfo {
	return &models.RDPInfo{
		IP:       req.IP,
		Port:     models.RDPPort,
		Username: models.RDPUsername,
		Password: req.RDPPassword,
	}
}

func (ins *Installer) completed(inst *models.Installation, req Request, n *notify.Notifier) Result {
	rdp := rdpPayload(req)
	ins.ledger.UpdateStatus(inst.ID, models.StatusCompleted, &ledger.StatusUpdate{RDPInfo: rdp})
	ins.ledger.UpdateStep(inst.ID, "Installation completed")
	ins.progress(req, models.StatusCompleted, "Installation completed")
	n.Completed(inst, rdp)
	return Result{Status: models.StatusCompleted, Message: "Installation completed", RDP: rdp}
}

// timeout still persists the RDP payload: the write may simply be slow and
// the box can come up after we stop watching.
func (ins *Installer) timeout(inst *models.Installation, req Request, n *notify.Notifier) Result {
	reason := "Installation timeout - server may still be installing"
	rdp := rdpPayload(req)
	ins.ledger.UpdateStatus(inst.ID, models.StatusTimeout, &ledger.StatusUpdate{Error: reason, RDPInfo: rdp})
	ins.progress(req, models.StatusTimeout, reason)
	n.Timeout(inst, rdp)
	return Result{Status: models.StatusTimeout, Message: reason, RDP: rdp}
}

// sleep waits for d or until ctx is done; reports whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
