package whisper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/lecture-queue/shared/logger"
)

// fakeWhisper writes text to <output_dir>/<base>.txt the way the CLI does
func fakeWhisper(t *testing.T, text string, gotArgs *[]string) func(ctx context.Context, name string, args ...string) error {
	return func(_ context.Context, name string, args ...string) error {
		*gotArgs = append([]string{name}, args...)

		var outputDir string
		for i, arg := range args {
			if arg == "--output_dir" && i+1 < len(args) {
				outputDir = args[i+1]
			}
		}
		require.NotEmpty(t, outputDir)

		base := filepath.Base(args[0])
		base = base[:len(base)-len(filepath.Ext(base))]
		return os.WriteFile(filepath.Join(outputDir, base+".txt"), []byte(text), 0o644)
	}
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lec1.mp3")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))
	return path
}

func TestEngine_Transcribe(t *testing.T) {
	workDir := t.TempDir()
	engine := NewEngine(Config{Language: "en", Device: "cpu", WorkDir: workDir}, logger.NewNop().Logger)

	var args []string
	engine.WithCommandRunner(fakeWhisper(t, "  hello world\n", &args))

	text, err := engine.Transcribe(context.Background(), writeAudio(t))
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	assert.Equal(t, DefaultCommand, args[0])
	assert.Contains(t, args, "--model")
	assert.Contains(t, args, DefaultModel)
	assert.Contains(t, args, "txt")
	assert.Contains(t, args, "en")
	assert.Contains(t, args, "cpu")

	// per-run output dirs are cleaned up
	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEngine_TranscribeErrors(t *testing.T) {
	t.Run("missing audio", func(t *testing.T) {
		engine := NewEngine(Config{}, logger.NewNop().Logger)
		_, err := engine.Transcribe(context.Background(), filepath.Join(t.TempDir(), "gone.mp3"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot access audio")
	})

	t.Run("command fails", func(t *testing.T) {
		engine := NewEngine(Config{WorkDir: t.TempDir()}, logger.NewNop().Logger)
		engine.WithCommandRunner(func(context.Context, string, ...string) error {
			return errors.New("corrupt header")
		})

		_, err := engine.Transcribe(context.Background(), writeAudio(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "corrupt header")
	})

	t.Run("no output file", func(t *testing.T) {
		engine := NewEngine(Config{WorkDir: t.TempDir()}, logger.NewNop().Logger)
		engine.WithCommandRunner(func(context.Context, string, ...string) error { return nil })

		_, err := engine.Transcribe(context.Background(), writeAudio(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no transcript")
	})
}

func TestEngine_Ready(t *testing.T) {
	engine := NewEngine(Config{Command: "whisper-test"}, logger.NewNop().Logger)

	calls := 0
	engine.lookPath = func(file string) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + file, nil
	}

	err := engine.Ready(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable")

	// failures are not cached
	require.NoError(t, engine.Ready(context.Background()))
	require.NoError(t, engine.Ready(context.Background()))
	assert.Equal(t, 2, calls)
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "RuntimeError: bad", lastLine("loading\nRuntimeError: bad\n"))
	assert.Equal(t, "single", lastLine("single"))
}
