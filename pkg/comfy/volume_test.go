package comfy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureLayout(t *testing.T) {
	v := Volume{Root: t.TempDir()}
	if err := v.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}
	for _, dir := range []string{v.ModelDir(), v.TempDir(), v.OutputDir()} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("%s should be a directory: %v", dir, err)
		}
	}
	if got := v.JobOutputDir("job_x"); got != filepath.Join(v.OutputDir(), "job_x") {
		t.Errorf("JobOutputDir = %q", got)
	}
}

func TestEnsureModelsLinkCreates(t *testing.T) {
	comfyDir := t.TempDir()
	modelDir := filepath.Join(t.TempDir(), "models")

	if err := EnsureModelsLink(comfyDir, modelDir, nil); err != nil {
		t.Fatalf("EnsureModelsLink: %v", err)
	}

	target, err := os.Readlink(filepath.Join(comfyDir, "models"))
	if err != nil {
		t.Fatalf("models should be a symlink: %v", err)
	}
	if target != modelDir {
		t.Errorf("symlink target = %q, want %q", target, modelDir)
	}

	// Idempotent.
	if err := EnsureModelsLink(comfyDir, modelDir, nil); err != nil {
		t.Fatalf("second EnsureModelsLink: %v", err)
	}
}

func TestEnsureModelsLinkReplacesEmptyDir(t *testing.T) {
	comfyDir := t.TempDir()
	modelDir := filepath.Join(t.TempDir(), "models")
	if err := os.Mkdir(filepath.Join(comfyDir, "models"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := EnsureModelsLink(comfyDir, modelDir, nil); err != nil {
		t.Fatalf("EnsureModelsLink: %v", err)
	}
	if _, err := os.Readlink(filepath.Join(comfyDir, "models")); err != nil {
		t.Errorf("empty models dir should be replaced with a symlink: %v", err)
	}
}

func TestEnsureModelsLinkKeepsNonEmptyDir(t *testing.T) {
	comfyDir := t.TempDir()
	modelDir := filepath.Join(t.TempDir(), "models")
	repoModels := filepath.Join(comfyDir, "models")
	if err := os.MkdirAll(filepath.Join(repoModels, "checkpoints"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := EnsureModelsLink(comfyDir, modelDir, nil); err != nil {
		t.Fatalf("EnsureModelsLink: %v", err)
	}

	info, err := os.Lstat(repoModels)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		t.Error("non-empty models dir must not be replaced")
	}
}
