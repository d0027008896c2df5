package enforcer

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/netfence/wifisplit/internal/errors"
	"github.com/netfence/wifisplit/internal/log"
)

// RouteBackup records the default route that was in place before
// enforcement began, so teardown can restore it. When the system had no
// default route at capture time, NoPriorDefault is set instead.
type RouteBackup struct {
	Gateway        net.IP    `json:"gateway,omitempty"`
	Interface      string    `json:"interface,omitempty"`
	NoPriorDefault bool      `json:"no_prior_default,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
}

// Matches reports whether a currently-installed default route corresponds
// to this backup.
func (b *RouteBackup) Matches(gateway net.IP, iface string) bool {
	if b.NoPriorDefault {
		return false
	}
	return b.Gateway.Equal(gateway) && b.Interface == iface
}

// BackupStore persists RouteBackup records as JSON files keyed by the
// monitored interface, one file per interface.
type BackupStore struct {
	dir string
}

// NewBackupStore creates a store rooted at dir. The directory is created
// lazily on the first Save.
func NewBackupStore(dir string) *BackupStore {
	return &BackupStore{dir: dir}
}

func (s *BackupStore) path(iface string) string {
	return filepath.Join(s.dir, fmt.Sprintf("route-backup-%s.json", iface))
}

// Save writes the backup record for the interface. The write goes through
// a temporary file and rename so a crash cannot leave a torn record.
func (s *BackupStore) Save(iface string, backup *RouteBackup) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(backup, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode route backup: %w", err)
	}

	tmp := s.path(iface) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write route backup: %w", err)
	}
	if err := os.Rename(tmp, s.path(iface)); err != nil {
		return fmt.Errorf("failed to finalize route backup: %w", err)
	}

	log.Debugf("Saved route backup for %s: %+v", iface, backup)
	return nil
}

// Load reads the backup record for the interface. Returns a
// ROUTE_BACKUP_MISSING error when no record exists.
func (s *BackupStore) Load(iface string) (*RouteBackup, error) {
	data, err := os.ReadFile(s.path(iface))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewRouteBackupMissing(iface)
		}
		return nil, fmt.Errorf("failed to read route backup: %w", err)
	}

	var backup RouteBackup
	if err := json.Unmarshal(data, &backup); err != nil {
		return nil, fmt.Errorf("failed to decode route backup: %w", err)
	}
	return &backup, nil
}

// Exists reports whether a backup record is present for the interface.
func (s *BackupStore) Exists(iface string) bool {
	_, err := os.Stat(s.path(iface))
	return err == nil
}

// Delete removes the backup record for the interface. Deleting a missing
// record is not an error.
func (s *BackupStore) Delete(iface string) error {
	if err := os.Remove(s.path(iface)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete route backup: %w", err)
	}
	return nil
}
