package appmanager

import (
	"context"
	"fmt"

	"github.com/juspay/airborne/manifest"
	"github.com/juspay/airborne/planner"
	"github.com/juspay/airborne/store"
	"github.com/juspay/airborne/tracker"
	"github.com/sourcegraph/conc/pool"
)

// startLazyDownloads opportunistically fetches the lazy splits after the
// boot outcome is settled. Lazy files land directly in the live package
// directory; their arrival flips the in-memory Downloaded flag and emits a
// LAZY_PACKAGE event but never touches the persisted manifest.
func (m *Manager) startLazyDownloads(target manifest.Manifest, tasks []planner.Task) {
	needed := make(map[string]struct{}, len(tasks))
	for _, task := range tasks {
		needed[task.Resource.FilePath] = struct{}{}
	}
	for _, lazy := range target.Package.Lazy {
		if _, ok := needed[lazy.FilePath]; !ok {
			m.markLazyDownloaded(lazy.FilePath)
		}
	}
	if len(tasks) == 0 {
		m.lazyDone.Store(true)
		return
	}

	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		defer m.lazyDone.Store(true)
		p := pool.New().WithMaxGoroutines(m.cfg.DownloadConcurrency())
		for _, task := range tasks {
			task := task
			p.Go(func() {
				m.fetchLazy(context.Background(), task.Resource)
			})
		}
		p.Wait()
	}()
}

// LoadLazy downloads a single lazy split on demand and returns its live
// path. A split that already arrived resolves immediately.
func (m *Manager) LoadLazy(ctx context.Context, filePath string) (string, error) {
	resource, ok := m.lazyResource(filePath)
	if !ok {
		return "", fmt.Errorf("no lazy split %s in current package", filePath)
	}
	if err := m.fetchLazy(ctx, resource); err != nil {
		return "", err
	}
	return m.store.Path(store.PackageMain, filePath)
}

func (m *Manager) fetchLazy(ctx context.Context, resource manifest.Resource) error {
	dest, err := m.store.Path(store.PackageMain, resource.FilePath)
	if err != nil {
		return err
	}
	if err := m.files.DownloadWithCheck(ctx, resource.URL, dest, resource.Checksum); err != nil {
		m.tracker.TrackError(tracker.KeyLazyPackage, map[string]any{"filePath": resource.FilePath, "ok": false, "error": err.Error()})
		return err
	}
	m.markLazyDownloaded(resource.FilePath)
	m.tracker.TrackInfo(tracker.KeyLazyPackage, map[string]any{"filePath": resource.FilePath, "ok": true})
	return nil
}

func (m *Manager) lazyResource(filePath string) (manifest.Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lazy := range m.current.Package.Lazy {
		if lazy.FilePath == filePath {
			return lazy.Resource, true
		}
	}
	return manifest.Resource{}, false
}

func (m *Manager) markLazyDownloaded(filePath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.current.Package.Lazy {
		if m.current.Package.Lazy[i].FilePath == filePath {
			m.current.Package.Lazy[i].Downloaded = true
		}
	}
}
