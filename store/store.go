// Package store is the bounded filesystem surface of a workspace.
// Every operation resolves inside the workspace root; attempts to escape it
// fail with PathEscapeError. Reads can fall back to the host-provided
// embedded asset bundle.
package store

import (
	"encoding"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/juspay/airborne/internal/logging"
)

// Workspace directory names. Each of manifest/package/resources/backup keeps
// a main (live) and temp (in-flight) subdirectory, except manifest which is
// flat.
const (
	ManifestDir  = "manifest"
	PackageDir   = "package"
	ResourceDir  = "resources"
	BackupDir    = "backup"
	MainDir      = "main"
	TempDir      = "temp"
	PackageMain  = PackageDir + "/" + MainDir
	PackageTemp  = PackageDir + "/" + TempDir
	ResourceMain = ResourceDir + "/" + MainDir
	ResourceTemp = ResourceDir + "/" + TempDir
	BackupMain   = BackupDir + "/" + MainDir
	BackupTemp   = BackupDir + "/" + TempDir
)

// ErrNotFound is returned when neither local storage nor the asset bundle
// has the requested file.
var ErrNotFound = errors.New("file not found")

// PathEscapeError reports a path that would resolve outside the workspace
// root. Never retried.
type PathEscapeError struct {
	Path string
}

func (e *PathEscapeError) Error() string {
	return fmt.Sprintf("path escapes workspace root: %s", e.Path)
}

// IOError wraps a filesystem failure with the operation and path for
// diagnostics.
type IOError struct {
	Op    string
	Path  string
	Cause error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Cause)
}

func (e *IOError) Unwrap() error { return e.Cause }

// Store scopes file operations to a single workspace root.
// assets is the host-provided embedded bundle used as a read fallback;
// it may be nil when the host ships no defaults.
type Store struct {
	root   string
	assets fs.FS
}

func New(root string, assets fs.FS) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, &IOError{Op: "mkdir", Path: abs, Cause: err}
	}
	return &Store{root: abs, assets: assets}, nil
}

// Root returns the absolute workspace root.
func (s *Store) Root() string {
	return s.root
}

// Path resolves folder/name inside the workspace root.
func (s *Store) Path(folder, name string) (string, error) {
	resolved := filepath.Join(s.root, filepath.FromSlash(folder), filepath.FromSlash(name))
	rel, err := filepath.Rel(s.root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &PathEscapeError{Path: filepath.Join(folder, name)}
	}
	return resolved, nil
}

// ReadBundled reads a file from the embedded asset bundle.
func (s *Store) ReadBundled(name string) ([]byte, error) {
	if s.assets == nil {
		return nil, fmt.Errorf("%w: %s (no asset bundle)", ErrNotFound, name)
	}
	data, err := fs.ReadFile(s.assets, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return data, err
}

// ReadLocal reads a file from local workspace storage.
func (s *Store) ReadLocal(folder, name string) ([]byte, error) {
	path, err := s.Path(folder, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	} else if err != nil {
		return nil, &IOError{Op: "read", Path: path, Cause: err}
	}
	return data, nil
}

// ReadLocalOrBundled prefers local storage and falls back to the asset bundle.
func (s *Store) ReadLocalOrBundled(folder, name string) ([]byte, error) {
	data, err := s.ReadLocal(folder, name)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.ReadBundled(name)
}

// WriteLocal writes a file into local workspace storage, creating the folder
// if needed. The write goes through a temp file and rename, so a concurrent
// reader never sees a torn file.
func (s *Store) WriteLocal(folder, name string, data []byte) error {
	path, err := s.Path(folder, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &IOError{Op: "mkdir", Path: filepath.Dir(path), Cause: err}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-")
	if err != nil {
		return &IOError{Op: "create", Path: path, Cause: err}
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &IOError{Op: "write", Path: tmp.Name(), Cause: err}
	}
	if err := tmp.Close(); err != nil {
		return &IOError{Op: "close", Path: tmp.Name(), Cause: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &IOError{Op: "rename", Path: path, Cause: err}
	}
	return nil
}

// MoveInto moves a file from an absolute source path into the workspace.
// Falls back to copy+delete when rename crosses filesystems.
func (s *Store) MoveInto(srcPath, folder, name string) error {
	dest, err := s.Path(folder, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &IOError{Op: "mkdir", Path: filepath.Dir(dest), Cause: err}
	}
	if err := os.Rename(srcPath, dest); err == nil {
		return nil
	}
	if err := copyFile(srcPath, dest); err != nil {
		return err
	}
	if err := os.Remove(srcPath); err != nil {
		logging.Warningf("could not remove moved file %s: %v", srcPath, err)
	}
	return nil
}

// EnsureFolder creates a workspace folder if it does not exist.
func (s *Store) EnsureFolder(folder string) error {
	path, err := s.Path(folder, ".")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return &IOError{Op: "mkdir", Path: path, Cause: err}
	}
	return nil
}

// Delete removes a file. Deleting a missing file is not an error.
func (s *Store) Delete(folder, name string) error {
	path, err := s.Path(folder, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &IOError{Op: "remove", Path: path, Cause: err}
	}
	return nil
}

// Exists reports whether a regular file exists at folder/name.
func (s *Store) Exists(folder, name string) bool {
	path, err := s.Path(folder, name)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// List returns the relative paths of all regular files under folder,
// forward-slash separated and sorted by os.ReadDir order of traversal.
func (s *Store) List(folder string) ([]string, error) {
	root, err := s.Path(folder, ".")
	if err != nil {
		return nil, err
	}
	var out []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		} else if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, &IOError{Op: "walk", Path: root, Cause: err}
	}
	return out, nil
}

// Decode reads folder/name and unmarshals it into v using its binary codec.
// The bundle fallback is not consulted: persisted documents only ever live in
// local storage.
func (s *Store) Decode(folder, name string, v encoding.BinaryUnmarshaler) error {
	data, err := s.ReadLocal(folder, name)
	if err != nil {
		return err
	}
	return v.UnmarshalBinary(data)
}

// Encode marshals v with its binary codec and writes it to folder/name.
func (s *Store) Encode(folder, name string, v encoding.BinaryMarshaler) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return err
	}
	return s.WriteLocal(folder, name, data)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return &IOError{Op: "open", Path: src, Cause: err}
	}
	defer in.Close()
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+"-")
	if err != nil {
		return &IOError{Op: "create", Path: dest, Cause: err}
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return &IOError{Op: "copy", Path: dest, Cause: err}
	}
	if err := tmp.Close(); err != nil {
		return &IOError{Op: "close", Path: tmp.Name(), Cause: err}
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return &IOError{Op: "rename", Path: dest, Cause: err}
	}
	return nil
}
