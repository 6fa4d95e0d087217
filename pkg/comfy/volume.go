package comfy

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Volume is the persisted network volume layout the worker relies on.
// Models, temp files, and outputs live under <root>/comfyui so they
// survive container restarts.
type Volume struct {
	Root string
}

// ModelDir returns the model directory on the volume.
func (v Volume) ModelDir() string { return filepath.Join(v.Root, "comfyui", "models") }

// TempDir returns the temp directory on the volume.
func (v Volume) TempDir() string { return filepath.Join(v.Root, "comfyui", "temp") }

// OutputDir returns the output directory on the volume.
func (v Volume) OutputDir() string { return filepath.Join(v.Root, "comfyui", "output") }

// JobOutputDir returns the per-job output directory.
func (v Volume) JobOutputDir(jobID string) string {
	return filepath.Join(v.OutputDir(), jobID)
}

// EnsureLayout creates the model, temp, and output directories.
func (v Volume) EnsureLayout() error {
	for _, dir := range []string{v.ModelDir(), v.TempDir(), v.OutputDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// EnsureModelsLink makes <comfyDir>/models a symlink to modelDir so that
// checkpoint loaders find files like models/checkpoints/<name>.safetensors
// on the persisted volume. A non-empty real models directory is left
// alone: user-provided content is never replaced.
func EnsureModelsLink(comfyDir, modelDir string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return fmt.Errorf("creating model dir: %w", err)
	}

	repoModels := filepath.Join(comfyDir, "models")

	if target, err := os.Readlink(repoModels); err == nil {
		if target == modelDir {
			return nil
		}
		// Points elsewhere: replace it.
		if err := os.Remove(repoModels); err != nil {
			return fmt.Errorf("replacing models symlink: %w", err)
		}
	} else if info, err := os.Stat(repoModels); err == nil && info.IsDir() {
		entries, err := os.ReadDir(repoModels)
		if err != nil {
			return fmt.Errorf("inspecting models dir: %w", err)
		}
		if len(entries) > 0 {
			logger.Warn("models directory is not empty, keeping it", "path", repoModels)
			return nil
		}
		if err := os.Remove(repoModels); err != nil {
			return fmt.Errorf("removing empty models dir: %w", err)
		}
	} else if err == nil {
		logger.Warn("models path exists and is not a directory, keeping it", "path", repoModels)
		return nil
	}

	if err := os.Symlink(modelDir, repoModels); err != nil && !os.IsExist(err) {
		return fmt.Errorf("linking models dir: %w", err)
	}

	logger.Info("linked models directory", "from", repoModels, "to", modelDir)
	return nil
}
