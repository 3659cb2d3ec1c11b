package storage

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/vitos/trade_controller/internal/usecase"
)

// GuardFile persists the daily guard snapshot as JSON, written atomically
// (tmp file + fsync + rename) so a crash never leaves a torn day state.
type GuardFile struct {
	path string
}

func NewGuardFile(path string) *GuardFile {
	return &GuardFile{path: path}
}

func (g *GuardFile) SaveGuardSnapshot(snap usecase.GuardSnapshot) error {
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(g.path, b, 0o600)
}

func (g *GuardFile) LoadGuardSnapshot() (usecase.GuardSnapshot, bool) {
	b, err := os.ReadFile(g.path)
	if err != nil {
		return usecase.GuardSnapshot{}, false
	}
	var snap usecase.GuardSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return usecase.GuardSnapshot{}, false
	}
	return snap, true
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	// best-effort fsync of the parent directory
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
