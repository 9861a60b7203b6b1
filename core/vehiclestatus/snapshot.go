package vehiclestatus

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/kilianp07/fleetlive/core/model"
)

// Snapshot is the on-disk form of the fleet state. It is a cache only: the
// live channel stays authoritative after a restart.
type Snapshot struct {
	SavedAt  time.Time            `json:"saved_at"`
	Vehicles []model.VehicleState `json:"vehicles"`
}

// SaveSnapshot atomically writes states to path.
func SaveSnapshot(path string, states []model.VehicleState, now time.Time) error {
	data, err := json.Marshal(Snapshot{SavedAt: now, Vehicles: states})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot. A missing file yields an empty snapshot.
func LoadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return s, nil
}
