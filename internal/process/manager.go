// Package process tracks the background gateway started by `start` and shared by `code`
// sessions: a PID file plus a reference count of attached clients.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	PIDFilename = "copilot-gateway.pid"
	RefFilename = "copilot-gateway.refs"

	stopTimeout  = 5 * time.Second
	pollInterval = 100 * time.Millisecond
)

type Manager struct {
	pidFile string
	refFile string
	logger  *slog.Logger
	mu      sync.RWMutex
}

func NewManager(baseDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		pidFile: filepath.Join(baseDir, PIDFilename),
		refFile: filepath.Join(baseDir, RefFilename),
		logger:  logger,
	}
}

func (m *Manager) WritePID() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.pidFile), 0o750); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}

	return os.WriteFile(m.pidFile, []byte(strconv.Itoa(os.Getpid())), 0o600)
}

// ReadPID returns 0 when no valid PID file exists.
func (m *Manager) ReadPID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return readInt(m.pidFile)
}

// IsRunning reports whether the recorded process is alive. A stale PID file is removed.
func (m *Manager) IsRunning() bool {
	pid := m.ReadPID()
	if pid == 0 {
		return false
	}

	if err := syscall.Kill(pid, 0); err != nil && !errors.Is(err, syscall.EPERM) {
		m.CleanupPID()
		return false
	}

	return true
}

func (m *Manager) Stop() error {
	pid := m.ReadPID()
	if pid == 0 {
		return nil
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM to process %d: %w", pid, err)
	}

	for deadline := time.Now().Add(stopTimeout); time.Now().Before(deadline); {
		if !m.IsRunning() {
			break
		}

		time.Sleep(pollInterval)
	}

	m.CleanupPID()

	return nil
}

// StopService stops the recorded gateway and forgets every attached client, including the
// leftovers of a gateway that died without cleaning up. It reports whether one was running.
func (m *Manager) StopService() (bool, error) {
	running := m.IsRunning()
	if running {
		if err := m.Stop(); err != nil {
			return true, err
		}
	}

	m.CleanupRef()

	return running, nil
}

func (m *Manager) CleanupPID() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.pidFile); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("Failed to remove PID file", "path", m.pidFile, "error", err)
	}
}

// IncrementRef registers an attached client and returns the new count.
func (m *Manager) IncrementRef() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := readInt(m.refFile) + 1
	m.writeRef(count)

	return count
}

// DecrementRef releases an attached client and returns the new count, never below zero.
func (m *Manager) DecrementRef() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := max(readInt(m.refFile)-1, 0)
	m.writeRef(count)

	return count
}

func (m *Manager) ReadRef() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return readInt(m.refFile)
}

func (m *Manager) CleanupRef() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.refFile); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("Failed to remove reference file", "path", m.refFile, "error", err)
	}
}

// caller holds m.mu.
func (m *Manager) writeRef(count int) {
	if err := os.MkdirAll(filepath.Dir(m.refFile), 0o750); err != nil {
		m.logger.Warn("Failed to create reference directory", "error", err)
		return
	}

	if err := os.WriteFile(m.refFile, []byte(strconv.Itoa(count)), 0o600); err != nil {
		m.logger.Warn("Failed to write reference file", "path", m.refFile, "error", err)
	}
}

// WaitForHealthy polls healthURL until it answers 200 or timeout elapses.
func (m *Manager) WaitForHealthy(ctx context.Context, healthURL string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := resty.New().SetTimeout(time.Second)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		resp, err := client.R().SetContext(ctx).Get(healthURL)
		if err == nil && resp.StatusCode() == 200 {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// StartServiceIfNeeded launches `<self> start` in the background unless a gateway is
// already running. The boolean reports whether this call started it.
func (m *Manager) StartServiceIfNeeded(ctx context.Context, healthURL string) (bool, error) {
	if m.IsRunning() {
		return false, nil
	}

	cmd := exec.Command(os.Args[0], "start")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("failed to start service: %w", err)
	}

	if err := cmd.Process.Release(); err != nil {
		m.logger.Debug("Failed to release service process", "error", err)
	}

	if !m.WaitForHealthy(ctx, healthURL, 10*time.Second) {
		return false, errors.New("service startup timeout")
	}

	return true, nil
}

func readInt(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}

	return n
}
