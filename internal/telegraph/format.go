package telegraph

import (
	"fmt"
	"strings"

	"github.com/systemaudit/winstaller/internal/catalog"
	"github.com/systemaudit/winstaller/internal/installer"
	"github.com/systemaudit/winstaller/internal/models"
)

func helpText() string {
	return strings.Join([]string{
		"**winstaller commands**",
		"`!wi register <username> <password> <activation_code>` - create an account",
		"`!wi login <username> <password>` - log in on this chat account",
		"`!wi logout` - log out",
		"`!wi install <ip> <ssh_password> <os_code> [rdp_password]` - install Windows on a VPS",
		"`!wi status <install_id>` - show one installation",
		"`!wi active` - your running installations",
		"`!wi history` - your recent installations",
		"`!wi logs <install_id>` - installation log lines",
		"`!wi oslist` - available Windows versions",
		"`!wi help` - this text",
	}, "\n")
}

func formatOSList() string {
	var b strings.Builder
	b.WriteString("**Available Windows versions**\n")
	for _, e := range catalog.List() {
		fmt.Fprintf(&b, "`%s` - %s (%s)\n", e.Code, e.Name, e.Category)
	}
	return b.String()
}

// formatInstallation renders one record. The RDP payload is only attached
// on terminal phases and always reports the fixed port.
func formatInstallation(inst *models.Installation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Installation `%s`**\n", inst.ID)
	fmt.Fprintf(&b, "Status: %s\n", inst.Status)
	fmt.Fprintf(&b, "Target: %s\n", inst.IP)
	fmt.Fprintf(&b, "OS: %s\n", inst.OSName)
	if inst.BootMode != models.BootModeUnknown {
		fmt.Fprintf(&b, "Boot mode: %s\n", inst.BootMode)
	}
	if inst.CurrentStep != "" {
		fmt.Fprintf(&b, "Step: %s\n", inst.CurrentStep)
	}
	if inst.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", inst.Error)
	}
	if info, err := models.ParseRDPInfo(inst.RDPInfo); err == nil && info != nil {
		b.WriteString(formatRDP(info))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatInstallList(title string, insts []models.Installation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n", title)
	for _, inst := range insts {
		fmt.Fprintf(&b, "`%s` %s %s (%s)\n", inst.ID, inst.Status, inst.IP, inst.OSName)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatLogs(inst *models.Installation) string {
	if len(inst.Logs) == 0 {
		return fmt.Sprintf("No logs for `%s` yet.", inst.ID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**Logs for `%s`**\n```\n", inst.ID)
	for _, lg := range inst.Logs {
		fmt.Fprintf(&b, "%s %s\n", lg.Timestamp.Format("15:04:05"), lg.Message)
	}
	b.WriteString("```")
	return b.String()
}

// formatResult renders the terminal outcome of a chat-initiated run.
func formatResult(inst *models.Installation, res installer.Result) string {
	switch res.Status {
	case models.StatusCompleted:
		return fmt.Sprintf("✅ Installation `%s` completed\n%s", inst.ID, formatRDP(res.RDP))
	case models.StatusTimeout:
		return fmt.Sprintf("⚠️ Installation `%s` timed out. The server may still be installing; try later:\n%s",
			inst.ID, formatRDP(res.RDP))
	default:
		return fmt.Sprintf("❌ Installation `%s` failed\n%s", inst.ID, res.Message)
	}
}

func formatRDP(rdp *models.RDPInfo) string {
	if rdp == nil {
		return ""
	}
	return fmt.Sprintf("RDP: `%s:%d`\nUsername: `%s`\nPassword: `%s`",
		rdp.IP, rdp.Port, rdp.Username, rdp.Password)
}
