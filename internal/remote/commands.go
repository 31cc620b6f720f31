package remote

import "fmt"

// stagingDir is the working directory created on the target host for the
// installer script.
const stagingDir = "/root/windows_install"

// Command produces one remote shell command. Every entry in the command
// table is a function, including the fixed ones, so callers never have to
// distinguish static strings from parameterized builders.
type Command func() string

// Fixed probe and staging commands.
var (
	// checkRAM prints total RAM in MB.
	checkRAM Command = func() string { return "free -m | awk 'NR==2 {print $2}'" }

	// checkDisk prints available root filesystem space in GB.
	checkDisk Command = func() string { return "df -BG --output=avail / | tail -n1 | sed 's/G//'" }

	// checkCPU prints the core count.
	checkCPU Command = func() string { return "nproc" }

	// checkOS prints the distribution ID from os-release.
	checkOS Command = func() string { return `grep '^ID=' /etc/os-release | cut -d= -f2 | tr -d '"'` }

	// checkOSFallback is used when os-release is missing or unreadable.
	checkOSFallback Command = func() string { return "[ -f /etc/debian_version ] && echo 'debian' || echo 'unknown'" }

	// checkBoot prints "uefi" when the EFI firmware interface is mounted.
	checkBoot Command = func() string { return "[ -d /sys/firmware/efi ] && echo 'uefi' || echo 'legacy'" }

	cleanupStaging Command = func() string { return "rm -rf " + stagingDir }
	createStaging  Command = func() string { return "mkdir -p " + stagingDir }

	// verifyScript prints OK when the installer script landed.
	verifyScript Command = func() string {
		return "[ -f " + stagingDir + "/reinstall.sh ] && echo 'OK' || echo 'FAIL'"
	}

	// scheduleReboot detaches so the reboot survives the SSH session. The
	// installer script schedules its own reboot too; this is a fallback.
	scheduleReboot Command = func() string { return "nohup sh -c 'sleep 5 && reboot' &" }
)

// downloadScript builds the wget invocation that stages the installer
// script. wget handles the bounded download retries itself.
func downloadScript(scriptURL string) Command {
	return func() string {
		return fmt.Sprintf("cd %s && wget --timeout=60 --tries=3 -O reinstall.sh %s && chmod +x reinstall.sh",
			stagingDir, scriptURL)
	}
}

// installCommand builds the dd-mode install invocation. The RDP port is
// fixed; the image URL has already been resolved for the host's boot mode.
func installCommand(rdpPort int, rdpPassword, imageURL string) Command {
	return func() string {
		return fmt.Sprintf("cd %s && bash reinstall.sh dd --rdp-port %d --password '%s' --img '%s' 2>&1",
			stagingDir, rdpPort, rdpPassword, imageURL)
	}
}
