// Package remote manages SSH sessions to target hosts and runs the probe,
// staging, and install commands for a Windows reinstall. One session is
// held per target address for the duration of an orchestration run.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/systemaudit/winstaller/internal/catalog"
	"github.com/systemaudit/winstaller/internal/config"
	"github.com/systemaudit/winstaller/internal/models"
)

// Sentinel errors for the connect/execute taxonomy. The orchestrator maps
// these to user-facing failure reasons, so authentication failures must
// never be conflated with unreachable hosts or timeouts.
var (
	ErrAuth         = errors.New("remote: authentication failed")
	ErrUnreachable  = errors.New("remote: host unreachable")
	ErrTimeout      = errors.New("remote: command timeout")
	ErrNotConnected = errors.New("remote: not connected")
)

// Per-command timeouts for the short probes.
const (
	probeTimeout    = 30 * time.Second
	bootTimeout     = 10 * time.Second
	downloadTimeout = 120 * time.Second
	rebootTimeout   = 10 * time.Second
	verifyTimeout   = 10 * time.Second
)

// Specs holds the outcome of the read-only host probes. A failed probe
// leaves its field at the zero/unknown default; callers evaluate whatever
// was gathered.
type Specs struct {
	RAMMB    int
	DiskGB   int
	CPUCores int
	OSType   string
	BootMode string
}

// conn abstracts an established SSH connection, enabling test mocks.
// Run executes one command in a fresh session and blocks until it exits.
type conn interface {
	Run(command string) (stdout, stderr string, err error)
	Close() error
}

// sshConn wraps *ssh.Client to implement conn.
type sshConn struct {
	client *ssh.Client
}

func (c *sshConn) Run(command string) (string, string, error) {
	sess, err := c.client.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("new session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	err = sess.Run(command)
	// A nonzero exit status is not a transport failure: the command ran and
	// its output was captured. Callers inspect stdout/stderr themselves.
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		err = nil
	}
	return stdout.String(), stderr.String(), err
}

func (c *sshConn) Close() error { return c.client.Close() }

// Client executes commands on target hosts over SSH. Sessions are keyed by
// address; a session is owned by exactly one orchestration run.
type Client struct {
	ssh    config.SSHConfig
	images config.ImagesConfig

	mu    sync.Mutex
	conns map[string]conn

	// dial is swapped out in tests.
	dial func(addr string, cfg *ssh.ClientConfig) (conn, error)
}

// NewClient creates a Client with the given SSH and image settings.
func NewClient(sshCfg config.SSHConfig, imgCfg config.ImagesConfig) *Client {
	return &Client{
		ssh:    sshCfg,
		images: imgCfg,
		conns:  make(map[string]conn),
		dial:   dialSSH,
	}
}

func dialSSH(addr string, cfg *ssh.ClientConfig) (conn, error) {
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, err
	}
	return &sshConn{client: client}, nil
}

// Connect establishes an authenticated session to ip as user. The error is
// wrapped with ErrAuth or ErrUnreachable when the cause is identifiable.
func (c *Client) Connect(ctx context.Context, ip, password, user string) error {
	if user == "" {
		user = "root"
	}
	log.Printf("remote: connecting to %s as %s", ip, user)

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // targets are about to be wiped
		Timeout:         c.ssh.ConnectTimeout(),
	}

	type dialResult struct {
		cn  conn
		err error
	}
	ch := make(chan dialResult, 1)
	go func() {
		cn, err := c.dial(net.JoinHostPort(ip, "22"), cfg)
		ch <- dialResult{cn, err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("remote: connect to %s: %w", ip, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return classifyConnectErr(ip, res.err)
		}
		c.mu.Lock()
		if old, ok := c.conns[ip]; ok {
			old.Close()
		}
		c.conns[ip] = res.cn
		c.mu.Unlock()
		log.Printf("remote: connected to %s", ip)
		return nil
	}
}

// classifyConnectErr maps a dial error onto the error taxonomy.
func classifyConnectErr(ip string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "permission denied") {
		return fmt.Errorf("remote: connect to %s: %w", ip, ErrAuth)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("remote: connect to %s: %w", ip, ErrUnreachable)
	}
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no route to host") ||
		strings.Contains(msg, "i/o timeout") {
		return fmt.Errorf("remote: connect to %s: %w", ip, ErrUnreachable)
	}
	return fmt.Errorf("remote: connect to %s: %w", ip, err)
}

// get returns the session for ip, or nil.
func (c *Client) get(ip string) conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conns[ip]
}

// Execute runs a command on the host's session, bounded by timeout. On
// deadline it returns whatever ran so far wrapped in ErrTimeout; the remote
// command is left running, which is exactly what the install invocation
// relies on. A zero timeout uses the configured default.
func (c *Client) Execute(ctx context.Context, ip, command string, timeout time.Duration) (string, string, error) {
	cn := c.get(ip)
	if cn == nil {
		return "", "", fmt.Errorf("remote: execute on %s: %w", ip, ErrNotConnected)
	}
	if timeout <= 0 {
		timeout = c.ssh.ExecuteTimeout()
	}

	type result struct {
		stdout, stderr string
		err            error
	}
	ch := make(chan result, 1)
	go func() {
		so, se, err := cn.Run(command)
		ch <- result{so, se, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return res.stdout, res.stderr, fmt.Errorf("remote: execute on %s: %w", ip, res.err)
		}
		return res.stdout, res.stderr, nil
	case <-ctx.Done():
		return "", "", fmt.Errorf("remote: execute on %s: %w", ip, ctx.Err())
	case <-time.After(timeout):
		return "", "", fmt.Errorf("remote: execute on %s after %s: %w", ip, timeout, ErrTimeout)
	}
}

// DetectBootMode probes for the EFI firmware interface. Any failure or
// unrecognized output defaults to legacy, which is always a safe image
// namespace to install from.
func (c *Client) DetectBootMode(ctx context.Context, ip string) string {
	stdout, _, err := c.Execute(ctx, ip, checkBoot(), bootTimeout)
	if err != nil {
		log.Printf("remote: boot mode probe on %s: %v", ip, err)
		return models.BootModeLegacy
	}
	mode := strings.ToLower(strings.TrimSpace(stdout))
	if mode == models.BootModeUEFI || mode == models.BootModeLegacy {
		return mode
	}
	return models.BootModeLegacy
}

// CheckSpecs runs the read-only probe battery. Individual probe failures
// leave the corresponding field at its default rather than aborting.
func (c *Client) CheckSpecs(ctx context.Context, ip string) Specs {
	specs := Specs{OSType: "unknown", BootMode: models.BootModeUnknown}

	if stdout, _, err := c.Execute(ctx, ip, checkRAM(), probeTimeout); err == nil {
		if v, perr := strconv.Atoi(strings.TrimSpace(stdout)); perr == nil {
			specs.RAMMB = v
		} else {
			log.Printf("remote: parse ram %q on %s: %v", strings.TrimSpace(stdout), ip, perr)
		}
	}

	if stdout, _, err := c.Execute(ctx, ip, checkDisk(), probeTimeout); err == nil {
		if v, perr := strconv.Atoi(strings.TrimSpace(stdout)); perr == nil {
			specs.DiskGB = v
		} else {
			log.Printf("remote: parse disk %q on %s: %v", strings.TrimSpace(stdout), ip, perr)
		}
	}

	if stdout, _, err := c.Execute(ctx, ip, checkCPU(), probeTimeout); err == nil {
		if v, perr := strconv.Atoi(strings.TrimSpace(stdout)); perr == nil {
			specs.CPUCores = v
		}
	}

	if stdout, _, err := c.Execute(ctx, ip, checkOS(), probeTimeout); err == nil && strings.TrimSpace(stdout) != "" {
		specs.OSType = strings.ToLower(strings.TrimSpace(stdout))
	} else if stdout, _, err := c.Execute(ctx, ip, checkOSFallback(), probeTimeout); err == nil && strings.TrimSpace(stdout) != "" {
		specs.OSType = strings.ToLower(strings.TrimSpace(stdout))
	}

	specs.BootMode = c.DetectBootMode(ctx, ip)

	log.Printf("remote: specs for %s: %+v", ip, specs)
	return specs
}

// Prepare stages the installer on the host: clears any previous staging
// directory, recreates it, downloads the installer script, and verifies it
// landed. Download and verify failures are fatal to the run.
func (c *Client) Prepare(ctx context.Context, ip string) error {
	if _, _, err := c.Execute(ctx, ip, cleanupStaging(), probeTimeout); err != nil {
		return fmt.Errorf("remote: prepare %s: clear staging: %w", ip, err)
	}
	if _, _, err := c.Execute(ctx, ip, createStaging(), probeTimeout); err != nil {
		return fmt.Errorf("remote: prepare %s: create staging: %w", ip, err)
	}

	if _, stderr, err := c.Execute(ctx, ip, downloadScript(c.images.ScriptURL)(), downloadTimeout); err != nil {
		return fmt.Errorf("remote: prepare %s: download script: %w", ip, err)
	} else if strings.TrimSpace(stderr) != "" && !strings.Contains(stderr, "saved") {
		// wget logs progress to stderr; only the absence of the script is
		// authoritative, so fall through to the verify step.
		log.Printf("remote: prepare %s: download stderr: %s", ip, firstLine(stderr))
	}

	stdout, _, err := c.Execute(ctx, ip, verifyScript(), verifyTimeout)
	if err != nil {
		return fmt.Errorf("remote: prepare %s: verify script: %w", ip, err)
	}
	if !strings.Contains(stdout, "OK") {
		return fmt.Errorf("remote: prepare %s: script verification failed", ip)
	}
	log.Printf("remote: %s prepared", ip)
	return nil
}

// StartInstall resolves the image for (osCode, bootMode), runs the install
// invocation under the long timeout, and schedules a fallback reboot. A
// timeout from the install command is normal for dd mode: the image write
// keeps running after the session deadline.
func (c *Client) StartInstall(ctx context.Context, ip, osCode, rdpPassword, bootMode string) (string, error) {
	imageURL, err := catalog.ImageURL(c.images, osCode, bootMode)
	if err != nil {
		return "", fmt.Errorf("remote: install on %s: %w", ip, err)
	}
	log.Printf("remote: installing on %s from %s (boot: %s, rdp port %d)", ip, imageURL, bootMode, models.RDPPort)

	_, stderr, err := c.Execute(ctx, ip, installCommand(models.RDPPort, rdpPassword, imageURL)(), c.ssh.LongTimeout())
	switch {
	case err == nil:
	case errors.Is(err, ErrTimeout):
		log.Printf("remote: install command timeout on %s (normal for dd mode)", ip)
	default:
		return "", fmt.Errorf("remote: install on %s: %w", ip, err)
	}

	if hasErrorMarker(stderr) {
		return "", fmt.Errorf("remote: install on %s: installation error: %s", ip, truncate(stderr, 200))
	}

	// Best-effort: the installer script self-schedules a reboot as well.
	if _, _, rerr := c.Execute(ctx, ip, scheduleReboot(), rebootTimeout); rerr != nil {
		log.Printf("remote: schedule reboot on %s (may already be scheduled): %v", ip, rerr)
	} else {
		log.Printf("remote: reboot scheduled for %s", ip)
	}

	return fmt.Sprintf("Installation configured. Host will reboot shortly; RDP on port %d.", models.RDPPort), nil
}

// ProbePort reports whether anything accepts a TCP connection on the port.
func (c *Client) ProbePort(ip string, port int, timeout time.Duration) bool {
	d, err := net.DialTimeout("tcp", net.JoinHostPort(ip, strconv.Itoa(port)), timeout)
	if err != nil {
		return false
	}
	d.Close()
	return true
}

// CheckRDP reports whether the fixed RDP port is accepting connections.
func (c *Client) CheckRDP(ip string) bool {
	return c.ProbePort(ip, models.RDPPort, 3*time.Second)
}

// Disconnect closes the session for ip. Idempotent.
func (c *Client) Disconnect(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cn, ok := c.conns[ip]; ok {
		if err := cn.Close(); err != nil {
			log.Printf("remote: disconnect %s: %v", ip, err)
		}
		delete(c.conns, ip)
		log.Printf("remote: disconnected from %s", ip)
	}
}

// Cleanup closes every session. Idempotent; called unconditionally at the
// end of a run.
func (c *Client) Cleanup() {
	c.mu.Lock()
	ips := make([]string, 0, len(c.conns))
	for ip := range c.conns {
		ips = append(ips, ip)
	}
	c.mu.Unlock()
	for _, ip := range ips {
		c.Disconnect(ip)
	}
}

// hasErrorMarker scans install stderr for the two failure markers. This is
// a bare case-sensitive substring match; benign output containing either
// word will false-positive.
func hasErrorMarker(stderr string) bool {
	return strings.Contains(stderr, "Error") || strings.Contains(stderr, "Failed")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
