package comfy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// LauncherConfig describes how to start a local ComfyUI process.
type LauncherConfig struct {
	// PythonBin is the interpreter used to run ComfyUI (default "python").
	PythonBin string

	// Dir is the ComfyUI checkout directory containing main.py.
	Dir string

	// Port is the listen port passed to the server.
	Port int

	// OutputDir and TempDir are passed through to ComfyUI.
	OutputDir string
	TempDir   string

	// UseCPU adds --cpu; only set when explicitly requested.
	UseCPU bool

	// ExtraArgs are appended verbatim.
	ExtraArgs []string
}

// Launcher starts and stops a headless ComfyUI server process.
type Launcher struct {
	cfg    LauncherConfig
	logger *slog.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewLauncher creates a launcher for the given configuration.
func NewLauncher(cfg LauncherConfig, logger *slog.Logger) *Launcher {
	if cfg.PythonBin == "" {
		cfg.PythonBin = "python"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{cfg: cfg, logger: logger}
}

// Args returns the argument vector the launcher passes to the interpreter.
func (l *Launcher) Args() []string {
	args := []string{
		"main.py",
		"--listen", "0.0.0.0",
		"--port", strconv.Itoa(l.cfg.Port),
	}
	if l.cfg.OutputDir != "" {
		args = append(args, "--output-directory", l.cfg.OutputDir)
	}
	if l.cfg.TempDir != "" {
		args = append(args, "--temp-directory", l.cfg.TempDir)
	}
	if l.cfg.UseCPU {
		args = append(args, "--cpu")
	}
	return append(args, l.cfg.ExtraArgs...)
}

// Start launches the ComfyUI process. Its stdout and stderr are relayed
// line by line through the structured logger.
func (l *Launcher) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd != nil {
		return fmt.Errorf("comfyui process already started")
	}

	cmd := exec.Command(l.cfg.PythonBin, l.Args()...)
	cmd.Dir = l.cfg.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("starting comfyui: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("starting comfyui: %w", err)
	}

	l.logger.Info("starting comfyui", "bin", l.cfg.PythonBin, "dir", l.cfg.Dir, "port", l.cfg.Port, "cpu", l.cfg.UseCPU)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting comfyui: %w", err)
	}
	l.cmd = cmd

	go l.relay(stdout, slog.LevelInfo)
	go l.relay(stderr, slog.LevelWarn)

	return nil
}

// Stop terminates the process: SIGTERM first, SIGKILL once the grace
// period elapses. Stop is a no-op when nothing is running.
func (l *Launcher) Stop(grace time.Duration) error {
	l.mu.Lock()
	cmd := l.cmd
	l.cmd = nil
	l.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return cmd.Process.Kill()
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
		l.logger.Info("comfyui stopped")
		return nil
	case <-time.After(grace):
		l.logger.Warn("comfyui did not stop in time, killing", "grace", grace)
		if err := cmd.Process.Kill(); err != nil {
			return err
		}
		<-done
		return nil
	}
}

func (l *Launcher) relay(r io.Reader, level slog.Level) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 256*1024)
	for scanner.Scan() {
		l.logger.Log(context.Background(), level, "comfyui: "+scanner.Text())
	}
}
