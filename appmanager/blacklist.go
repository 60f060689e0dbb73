package appmanager

import (
	"errors"

	"github.com/juspay/airborne/internal/logging"
	"github.com/juspay/airborne/manifest"
	"github.com/juspay/airborne/store"
)

// loadBlacklist reads the persisted set of package versions that previously
// failed to download or promote in this workspace.
func (m *Manager) loadBlacklist() manifest.Blacklist {
	var b manifest.Blacklist
	err := m.store.Decode(store.ManifestDir, manifest.BlacklistDataFile, &b)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logging.Warningf("workspace %s: unreadable blacklist: %v", m.workspace, err)
	}
	return b
}

func (m *Manager) addToBlacklist(version string) {
	if version == "" {
		return
	}
	b := m.loadBlacklist()
	if !b.Add(version) {
		return
	}
	if err := m.store.Encode(store.ManifestDir, manifest.BlacklistDataFile, b); err != nil {
		logging.Errorf("workspace %s: persisting blacklist: %v", m.workspace, err)
	}
}
