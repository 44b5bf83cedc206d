package statusbar

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"singalong/pkg/fileutil"

	"github.com/rs/zerolog/log"
)

const (
	DefaultPath = "/tmp/lyrics"
	// i3blocks 配置里 signal=21，对应 SIGRTMIN(34)+21
	DefaultSignal   = syscall.Signal(55)
	refreshInterval = 10 * time.Second
)

var logger = log.With().Str("component", "statusbar").Logger()

// Notifier 把当前歌词行写到文件，并通知 i3blocks 刷新
type Notifier struct {
	path   string
	signal syscall.Signal
	lookup func(ctx context.Context) (int, error)
	notify func(pid int, sig syscall.Signal) error

	pidMutex sync.RWMutex
	pid      int

	lastMutex sync.Mutex
	last      string

	runMutex sync.Mutex
	cancel   context.CancelFunc
}

func NewNotifier(path string) *Notifier {
	if path == "" {
		path = DefaultPath
	}
	return &Notifier{
		path:   path,
		signal: DefaultSignal,
		lookup: findI3blocks,
		notify: syscall.Kill,
		pid:    -1,
	}
}

// Start 每 10 秒刷新一次 i3blocks 的 PID
func (n *Notifier) Start() error {
	n.runMutex.Lock()
	defer n.runMutex.Unlock()

	if n.cancel != nil {
		return fmt.Errorf("status bar notifier is already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel

	if err := n.refreshPID(ctx); err != nil {
		logger.Debug().Err(err).Msg("i3blocks not found")
	}
	go n.monitorLoop(ctx)

	logger.Info().Str("path", n.path).Msg("Status bar notifier started")
	return nil
}

func (n *Notifier) Stop() {
	n.runMutex.Lock()
	defer n.runMutex.Unlock()

	if n.cancel == nil {
		return
	}
	n.cancel()
	n.cancel = nil
	logger.Info().Msg("Status bar notifier stopped")
}

func (n *Notifier) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := n.refreshPID(ctx); err != nil {
				logger.Debug().Err(err).Msg("Failed to refresh i3blocks PID")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (n *Notifier) refreshPID(ctx context.Context) error {
	pid, err := n.lookup(ctx)
	if err != nil {
		pid = -1
	}

	n.pidMutex.Lock()
	oldPID := n.pid
	n.pid = pid
	n.pidMutex.Unlock()

	if oldPID != pid {
		logger.Info().Int("old_pid", oldPID).Int("pid", pid).Msg("i3blocks PID updated")
	}
	return err
}

// PID 当前记录的 i3blocks PID，未找到时为 -1
func (n *Notifier) PID() int {
	n.pidMutex.RLock()
	defer n.pidMutex.RUnlock()
	return n.pid
}

// Show 写入当前行并发送刷新信号，内容未变化时跳过
func (n *Notifier) Show(line string) error {
	n.lastMutex.Lock()
	defer n.lastMutex.Unlock()

	if line == n.last {
		return nil
	}
	if err := fileutil.WriteFileOverwrite(n.path, []byte(line+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write status line: %w", err)
	}
	n.last = line

	pid := n.PID()
	if pid <= 0 {
		return nil
	}
	if err := n.notify(pid, n.signal); err != nil {
		return fmt.Errorf("failed to send signal %d to i3blocks (PID %d): %w", int(n.signal), pid, err)
	}
	return nil
}

// findI3blocks 优先用 pgrep，失败时解析 ps 输出
func findI3blocks(ctx context.Context) (int, error) {
	if output, err := exec.CommandContext(ctx, "pgrep", "-x", "i3blocks").Output(); err == nil {
		if pid, ok := parsePgrep(string(output)); ok {
			return pid, nil
		}
	}

	output, err := exec.CommandContext(ctx, "ps", "aux").Output()
	if err != nil {
		return -1, fmt.Errorf("failed to run ps command: %w", err)
	}
	if pid, ok := parsePs(string(output)); ok {
		return pid, nil
	}
	return -1, fmt.Errorf("i3blocks process not found")
}

// parsePgrep 多个 PID 时取第一个
func parsePgrep(output string) (int, bool) {
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if pid, err := strconv.Atoi(strings.TrimSpace(line)); err == nil && pid > 0 {
			return pid, true
		}
	}
	return -1, false
}

func parsePs(output string) (int, bool) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "i3blocks") || strings.Contains(line, "grep") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if pid, err := strconv.Atoi(fields[1]); err == nil {
			return pid, true
		}
	}
	return -1, false
}

// Clear 清空状态栏
func (n *Notifier) Clear() error {
	return n.Show("")
}

// Remove 退出时删除状态文件
func (n *Notifier) Remove() {
	if err := os.Remove(n.path); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Str("path", n.path).Msg("Failed to remove status file")
	}
}
