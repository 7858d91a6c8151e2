package whisper

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

const (
	// DefaultCommand is the openai-whisper CLI entry point
	DefaultCommand = "whisper"
	// DefaultModel matches the model the desktop app shipped with
	DefaultModel = "medium"
)

// Config configures the whisper command line engine
type Config struct {
	Command  string
	Model    string
	Device   string
	Language string
	// WorkDir holds per-run output directories; empty uses the OS temp dir
	WorkDir string
	Args    []string
}

// Engine transcribes audio by invoking the whisper CLI
type Engine struct {
	cfg    Config
	logger *slog.Logger

	commandRunner func(ctx context.Context, name string, args ...string) error
	lookPath      func(file string) (string, error)

	mu    sync.Mutex
	ready bool
}

// NewEngine creates a whisper engine. The binary is located lazily on the
// first Ready call.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		lookPath: exec.LookPath,
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func (e *Engine) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	e.commandRunner = runner
}

// Model returns the configured model name for logging.
func (e *Engine) Model() string {
	return e.cfg.Model
}

// Ready checks that the whisper binary can be run. Only success is cached,
// so an engine installed after a failure is picked up by the next job.
func (e *Engine) Ready(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ready {
		return nil
	}

	path, err := e.lookPath(e.cfg.Command)
	if err != nil {
		return fmt.Errorf("whisper engine unavailable: %w", err)
	}

	e.ready = true
	e.logger.Info("Transcription engine loaded",
		slog.String("command", path),
		slog.String("model", e.cfg.Model),
	)
	return nil
}

// Transcribe runs whisper on audioPath and returns the plain text transcript
func (e *Engine) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if audioPath == "" {
		return "", fmt.Errorf("transcribe: audio path required")
	}
	if _, err := os.Stat(audioPath); err != nil {
		return "", fmt.Errorf("cannot access audio: %w", err)
	}

	if e.cfg.WorkDir != "" {
		if err := os.MkdirAll(e.cfg.WorkDir, 0o755); err != nil {
			return "", fmt.Errorf("transcribe: ensure work dir: %w", err)
		}
	}
	outputDir, err := os.MkdirTemp(e.cfg.WorkDir, "whisper-*")
	if err != nil {
		return "", fmt.Errorf("transcribe: create output dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(outputDir); err != nil {
			e.logger.Warn("Failed to remove whisper output dir",
				slog.String("path", outputDir),
				slog.String("error", err.Error()),
			)
		}
	}()

	if err := e.run(ctx, e.cfg.Command, e.buildArgs(audioPath, outputDir)...); err != nil {
		return "", err
	}

	baseName := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	text, err := os.ReadFile(filepath.Join(outputDir, baseName+".txt"))
	if err != nil {
		return "", fmt.Errorf("whisper produced no transcript: %w", err)
	}

	return strings.TrimSpace(string(text)), nil
}

func (e *Engine) buildArgs(audioPath, outputDir string) []string {
	args := []string{
		audioPath,
		"--model", e.cfg.Model,
		"--output_format", "txt",
		"--output_dir", outputDir,
		"--verbose", "False",
	}
	if e.cfg.Device != "" {
		args = append(args, "--device", e.cfg.Device)
	}
	if e.cfg.Language != "" {
		args = append(args, "--language", e.cfg.Language)
	}
	return append(args, e.cfg.Args...)
}

// run executes a command, using the custom runner if set.
func (e *Engine) run(ctx context.Context, name string, args ...string) error {
	if e.commandRunner != nil {
		return e.commandRunner(ctx, name, args...)
	}

	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, lastLine(string(output)))
	}
	return nil
}

// lastLine keeps the tail of the tool output, where whisper prints the error
func lastLine(output string) string {
	output = strings.TrimSpace(output)
	if idx := strings.LastIndex(output, "\n"); idx >= 0 {
		return output[idx+1:]
	}
	return output
}
