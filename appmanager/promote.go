package appmanager

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/juspay/airborne/internal/logging"
	"github.com/juspay/airborne/manifest"
	"github.com/juspay/airborne/store"
)

// promote is the two-phase commit that makes target live.
//
// The temp manifest documents are written first and double as the in-flight
// marker: if the process dies mid-promote, recoverPromote finds them next to
// the backup snapshot and restores, so the next launch sees either the old
// or the new main/ in full, never a mix.
func (m *Manager) promote(target manifest.Manifest) error {
	if err := m.store.Encode(store.ManifestDir, manifest.PackageTempDataFile, target.Package); err != nil {
		return err
	}
	if err := m.store.Encode(store.ManifestDir, manifest.ResourcesTempDataFile, target.Resources); err != nil {
		m.removePromoteMarkers()
		return err
	}
	if err := m.snapshotBackup(); err != nil {
		m.removePromoteMarkers()
		return fmt.Errorf("taking backup: %w", err)
	}

	err := m.installFiles(target)
	if err == nil {
		err = m.persistManifest(target)
	}
	if err != nil {
		if restoreErr := m.restoreFromBackup(); restoreErr != nil {
			logging.Errorf("workspace %s: rollback failed: %v", m.workspace, restoreErr)
		}
		m.addToBlacklist(target.Package.Version)
		m.removePromoteMarkers()
		m.releaseBackup()
		return err
	}

	m.removePromoteMarkers()
	m.releaseBackup()
	m.cleanupTempDirs()
	return nil
}

// recoverPromote runs at startup. A leftover temp manifest document means a
// promote was interrupted; when the backup snapshot is present the previous
// state is restored from it.
func (m *Manager) recoverPromote() error {
	marker := m.store.Exists(store.ManifestDir, manifest.PackageTempDataFile) ||
		m.store.Exists(store.ManifestDir, manifest.ResourcesTempDataFile)
	if !marker {
		m.cleanupTempDirs()
		return nil
	}
	var restoreErr error
	if m.backupExists() {
		logging.Warningf("workspace %s: interrupted promote detected, rolling back", m.workspace)
		restoreErr = m.restoreFromBackup()
	}
	m.removePromoteMarkers()
	m.releaseBackup()
	m.cleanupTempDirs()
	return restoreErr
}

// installFiles moves staged downloads into main/ and removes files the new
// manifest no longer references. Completeness of the important set is
// validated before anything is deleted.
func (m *Manager) installFiles(target manifest.Manifest) error {
	splitSet := target.Package.SplitSet()
	for filePath := range splitSet {
		if err := m.adoptStaged(store.PackageTemp, store.PackageMain, filePath); err != nil {
			return err
		}
	}
	for _, r := range target.Package.AllImportantSplits() {
		if !m.store.Exists(store.PackageMain, r.FilePath) {
			return fmt.Errorf("promote: important file %s missing after staging", r.FilePath)
		}
	}

	for filePath := range target.Resources {
		if err := m.adoptStaged(store.ResourceTemp, store.ResourceMain, filePath); err != nil {
			return err
		}
		if !m.store.Exists(store.ResourceMain, filePath) {
			return fmt.Errorf("promote: resource %s missing after staging", filePath)
		}
	}

	if err := m.deleteUnreferenced(store.PackageMain, splitSet); err != nil {
		return err
	}
	resourceSet := make(map[string]struct{}, len(target.Resources))
	for filePath := range target.Resources {
		resourceSet[filePath] = struct{}{}
	}
	return m.deleteUnreferenced(store.ResourceMain, resourceSet)
}

func (m *Manager) adoptStaged(tempFolder, mainFolder, filePath string) error {
	if !m.store.Exists(tempFolder, filePath) {
		return nil
	}
	staged, err := m.store.Path(tempFolder, filePath)
	if err != nil {
		return err
	}
	return m.store.MoveInto(staged, mainFolder, filePath)
}

func (m *Manager) deleteUnreferenced(folder string, keep map[string]struct{}) error {
	files, err := m.store.List(folder)
	if err != nil {
		return err
	}
	for _, name := range files {
		if _, ok := keep[name]; ok {
			continue
		}
		if err := m.store.Delete(folder, name); err != nil {
			return err
		}
	}
	return nil
}

// persistManifest atomically swaps the persisted documents to the new
// release, using the old/temp file dance so every intermediate crash state
// is recoverable.
func (m *Manager) persistManifest(target manifest.Manifest) error {
	if err := m.store.Encode(store.ManifestDir, manifest.ConfigDataFile, target.Config); err != nil {
		return err
	}
	resourcesPath, err := m.store.Path(store.ManifestDir, manifest.ResourcesDataFile)
	if err != nil {
		return err
	}
	oldPath, err := m.store.Path(store.ManifestDir, manifest.ResourcesOldDataFile)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(resourcesPath); statErr == nil {
		if err := os.Rename(resourcesPath, oldPath); err != nil {
			return &store.IOError{Op: "rename", Path: resourcesPath, Cause: err}
		}
	}
	tempResourcesPath, err := m.store.Path(store.ManifestDir, manifest.ResourcesTempDataFile)
	if err != nil {
		return err
	}
	if err := os.Rename(tempResourcesPath, resourcesPath); err != nil {
		return &store.IOError{Op: "rename", Path: tempResourcesPath, Cause: err}
	}
	tempPackagePath, err := m.store.Path(store.ManifestDir, manifest.PackageTempDataFile)
	if err != nil {
		return err
	}
	packagePath, err := m.store.Path(store.ManifestDir, manifest.PackageDataFile)
	if err != nil {
		return err
	}
	if err := os.Rename(tempPackagePath, packagePath); err != nil {
		return &store.IOError{Op: "rename", Path: tempPackagePath, Cause: err}
	}
	return m.store.Delete(store.ManifestDir, manifest.ResourcesOldDataFile)
}

// snapshotBackup copies the live directories and persisted documents into
// backup/temp, then renames the snapshot to backup/main so a half-written
// snapshot is never mistaken for a usable one.
func (m *Manager) snapshotBackup() error {
	backupTemp, err := m.store.Path(store.BackupTemp, ".")
	if err != nil {
		return err
	}
	if err := os.RemoveAll(backupTemp); err != nil {
		return &store.IOError{Op: "remove", Path: backupTemp, Cause: err}
	}
	for src, dst := range map[string]string{
		store.PackageMain:  filepath.Join(backupTemp, "package"),
		store.ResourceMain: filepath.Join(backupTemp, "resources"),
	} {
		srcPath, err := m.store.Path(src, ".")
		if err != nil {
			return err
		}
		if err := copyDir(srcPath, dst); err != nil {
			return err
		}
	}
	manifestBackup := filepath.Join(backupTemp, "manifest")
	if err := os.MkdirAll(manifestBackup, 0o755); err != nil {
		return &store.IOError{Op: "mkdir", Path: manifestBackup, Cause: err}
	}
	for _, name := range []string{manifest.ConfigDataFile, manifest.PackageDataFile, manifest.ResourcesDataFile} {
		data, err := m.store.ReadLocal(store.ManifestDir, name)
		if errors.Is(err, store.ErrNotFound) {
			continue
		} else if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(manifestBackup, name), data, 0o644); err != nil {
			return &store.IOError{Op: "write", Path: filepath.Join(manifestBackup, name), Cause: err}
		}
	}

	backupMain, err := m.store.Path(store.BackupMain, ".")
	if err != nil {
		return err
	}
	if err := os.RemoveAll(backupMain); err != nil {
		return &store.IOError{Op: "remove", Path: backupMain, Cause: err}
	}
	if err := os.MkdirAll(filepath.Dir(backupMain), 0o755); err != nil {
		return &store.IOError{Op: "mkdir", Path: filepath.Dir(backupMain), Cause: err}
	}
	if err := os.Rename(backupTemp, backupMain); err != nil {
		return &store.IOError{Op: "rename", Path: backupTemp, Cause: err}
	}
	return nil
}

func (m *Manager) backupExists() bool {
	backupMain, err := m.store.Path(store.BackupMain, ".")
	if err != nil {
		return false
	}
	info, err := os.Stat(backupMain)
	return err == nil && info.IsDir()
}

func (m *Manager) restoreFromBackup() error {
	if !m.backupExists() {
		return nil
	}
	backupMain, err := m.store.Path(store.BackupMain, ".")
	if err != nil {
		return err
	}
	for dst, src := range map[string]string{
		store.PackageMain:  filepath.Join(backupMain, "package"),
		store.ResourceMain: filepath.Join(backupMain, "resources"),
	} {
		dstPath, err := m.store.Path(dst, ".")
		if err != nil {
			return err
		}
		if err := os.RemoveAll(dstPath); err != nil {
			return &store.IOError{Op: "remove", Path: dstPath, Cause: err}
		}
		if err := copyDir(src, dstPath); err != nil {
			return err
		}
	}
	manifestBackup := filepath.Join(backupMain, "manifest")
	entries, err := os.ReadDir(manifestBackup)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &store.IOError{Op: "readdir", Path: manifestBackup, Cause: err}
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(manifestBackup, entry.Name()))
		if err != nil {
			return &store.IOError{Op: "read", Path: entry.Name(), Cause: err}
		}
		if err := m.store.WriteLocal(store.ManifestDir, entry.Name(), data); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) removePromoteMarkers() {
	m.store.Delete(store.ManifestDir, manifest.PackageTempDataFile)
	m.store.Delete(store.ManifestDir, manifest.ResourcesTempDataFile)
	m.store.Delete(store.ManifestDir, manifest.ResourcesOldDataFile)
}

func (m *Manager) releaseBackup() {
	for _, folder := range []string{store.BackupMain, store.BackupTemp} {
		if path, err := m.store.Path(folder, "."); err == nil {
			os.RemoveAll(path)
		}
	}
}

// copyDir copies the regular files of a tree. A missing source directory is
// treated as empty.
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		} else if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}
