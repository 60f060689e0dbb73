// Package appmanager drives the per-workspace boot state machine: it loads
// the persisted release configuration, fetches the new one under the release
// config timeout, downloads missing files under the boot timeout, and
// promotes the staged set atomically into the live directories.
package appmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juspay/airborne/api"
	"github.com/juspay/airborne/internal/logging"
	"github.com/juspay/airborne/manifest"
	"github.com/juspay/airborne/network"
	"github.com/juspay/airborne/remote"
	"github.com/juspay/airborne/store"
	"github.com/juspay/airborne/tracker"
)

// Bundled default asset names. On first boot, before any release
// configuration was ever persisted, the engine adopts these from the host
// asset bundle without checksum verification.
const (
	DefaultConfigAsset    = "app_config.json"
	DefaultPackageAsset   = "app_package.json"
	DefaultResourcesAsset = "app_resources.json"
)

// defaultBootTimeout applies when neither persisted state nor bundled
// defaults provide a config.
const defaultBootTimeout = 5000 * time.Millisecond

// Manager owns one workspace. Exactly one instance exists per
// (process, workspace); multi-process access to the same workspace is
// unsupported.
type Manager struct {
	workspace string
	id        string
	cfg       api.Config

	store   *store.Store
	net     *network.Client
	files   *remote.FileUtil
	tracker *tracker.Tracker

	mu       sync.Mutex
	state    State
	current  manifest.Manifest
	result   *DownloadResult
	resultCh chan struct{}

	rcDone        atomic.Bool
	importantDone atomic.Bool
	resourcesDone atomic.Bool
	lazyDone      atomic.Bool

	startOnce sync.Once
	bg        sync.WaitGroup
}

// New builds a manager for the workspace. Start must be called to kick off
// the boot flow.
func New(workspace string, cfg api.Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	storageDir := cfg.StorageDir
	if storageDir == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolving storage dir: %w", err)
		}
		storageDir = filepath.Join(cacheDir, "airborne")
	}
	st, err := store.New(filepath.Join(storageDir, workspace), cfg.Assets)
	if err != nil {
		return nil, err
	}
	for _, folder := range []string{store.ManifestDir, store.PackageMain, store.PackageTemp, store.ResourceMain, store.ResourceTemp} {
		if err := st.EnsureFolder(folder); err != nil {
			return nil, err
		}
	}

	net := network.NewClient()
	id := uuid.NewString()
	m := &Manager{
		workspace: workspace,
		id:        id,
		cfg:       cfg,
		store:     st,
		net:       net,
		files:     remote.NewFileUtil(net),
		tracker:   tracker.New(id, workspace),
		state:     StateInit,
		resultCh:  make(chan struct{}),
	}
	if cfg.OnEvent != nil {
		m.tracker.AddSink(tracker.SinkFunc(func(e tracker.Event) {
			cfg.OnEvent(string(e.Level), e.Label, e.Key, e.Value, e.Category, e.Subcategory)
		}))
	} else {
		m.tracker.AddSink(tracker.LogSink())
	}
	return m, nil
}

// AddSink registers an additional telemetry sink.
func (m *Manager) AddSink(sink tracker.Sink) {
	m.tracker.AddSink(sink)
}

// Store exposes the workspace file surface (used by the facade for reads).
func (m *Manager) Store() *store.Store {
	return m.store
}

// Workspace returns the workspace identifier.
func (m *Manager) Workspace() string {
	return m.workspace
}

// ID returns the unique identifier of this manager instance, carried on
// every tracker event.
func (m *Manager) ID() string {
	return m.id
}

// Start launches the boot flow. Safe to call more than once; only the first
// call has an effect.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.bg.Add(1)
		go func() {
			defer m.bg.Done()
			m.run(ctx)
		}()
	})
}

// WaitForPackagesAndResources blocks until the first terminal outcome of
// this boot (completion, failure, or timeout verdict).
func (m *Manager) WaitForPackagesAndResources(ctx context.Context) (DownloadResult, error) {
	select {
	case <-m.resultCh:
		return *m.snapshotResult(), nil
	case <-ctx.Done():
		return DownloadResult{}, ctx.Err()
	}
}

// CurrentResult returns the latest outcome snapshot without blocking.
// Before the boot resolves it reports the phase still in progress.
func (m *Manager) CurrentResult() DownloadResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.result != nil {
		return *m.result
	}
	status := StatusReleaseConfigTimedOut
	if m.rcDone.Load() {
		status = StatusPackageTimedOut
	}
	return DownloadResult{Status: status, ReleaseConfig: m.current}
}

// CurrentApplicationManifest returns the currently live release
// configuration. Safe to call from any goroutine during or after downloads.
func (m *Manager) CurrentApplicationManifest() manifest.Manifest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// ReleaseConfigJSON renders the live manifest in its wire shape.
func (m *Manager) ReleaseConfigJSON() ([]byte, error) {
	return json.Marshal(m.CurrentApplicationManifest())
}

// State returns the current machine state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Monotonic readiness predicates: each flips false to true at most once per
// manager instance.

func (m *Manager) IsReleaseConfigDownloadCompleted() bool { return m.rcDone.Load() }

func (m *Manager) IsImportantPackageDownloadCompleted() bool { return m.importantDone.Load() }

func (m *Manager) IsResourcesDownloadCompleted() bool { return m.resourcesDone.Load() }

func (m *Manager) IsPackageAndResourceDownloadCompleted() bool {
	return m.importantDone.Load() && m.resourcesDone.Load()
}

func (m *Manager) IsLazyPackageDownloadCompleted() bool { return m.lazyDone.Load() }

// ReleaseConfigTimeout returns the effective release config fetch timeout.
func (m *Manager) ReleaseConfigTimeout() time.Duration {
	return time.Duration(m.CurrentApplicationManifest().Config.ReleaseConfigTimeoutMS) * time.Millisecond
}

// BootTimeout returns the effective boot timeout.
func (m *Manager) BootTimeout() time.Duration {
	return time.Duration(m.CurrentApplicationManifest().Config.BootTimeoutMS) * time.Millisecond
}

// PathForPackageFile returns the live storage path for a package file,
// whether or not the file exists there yet.
func (m *Manager) PathForPackageFile(name string) (string, error) {
	return m.store.Path(store.PackageMain, name)
}

// BundlePath returns the path of the promoted entry file.
func (m *Manager) BundlePath() (string, error) {
	index := m.CurrentApplicationManifest().Package.Index.FilePath
	if index == "" {
		return "", fmt.Errorf("no package index in workspace %s", m.workspace)
	}
	return m.PathForPackageFile(index)
}

// ReadPackageFile reads a file from the live package directory, falling back
// to the bundled assets for files shipped with the host.
func (m *Manager) ReadPackageFile(name string) ([]byte, error) {
	return m.store.ReadLocalOrBundled(store.PackageMain, name)
}

// ReadResourceFile reads a file from the live resources directory.
func (m *Manager) ReadResourceFile(name string) ([]byte, error) {
	return m.store.ReadLocalOrBundled(store.ResourceMain, name)
}

// Close waits for background work (downloads, promotion, callbacks) to finish
// and drains the tracker; it does not cancel that work. The manager is not
// usable afterwards.
func (m *Manager) Close() {
	m.bg.Wait()
	m.tracker.Close()
}

func (m *Manager) snapshotResult() *DownloadResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *m.result
	return &out
}

// finish records the first terminal outcome, transitions state, resolves the
// host's wait exactly once, and schedules onBootComplete. Later calls only
// adjust internal state.
func (m *Manager) finish(state State, status Status, errText string) {
	m.mu.Lock()
	m.state = state
	first := m.result == nil
	if first {
		m.result = &DownloadResult{Status: status, ReleaseConfig: m.current, Error: errText}
		close(m.resultCh)
	}
	m.mu.Unlock()

	if first {
		logging.Basicf("workspace %s: boot resolved %s", m.workspace, status)
		if m.cfg.OnBootComplete != nil {
			bundlePath, err := m.BundlePath()
			if err != nil {
				logging.Warningf("workspace %s: %v", m.workspace, err)
			}
			m.bg.Add(1)
			go func() {
				defer m.bg.Done()
				m.cfg.OnBootComplete(bundlePath)
			}()
		}
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) setCurrent(mf manifest.Manifest) {
	m.mu.Lock()
	m.current = mf
	m.mu.Unlock()
}

// markAllDownloadsSettled flips every readiness predicate; used on paths
// where no further downloads will run this boot.
func (m *Manager) markAllDownloadsSettled() {
	m.importantDone.Store(true)
	m.resourcesDone.Store(true)
	m.lazyDone.Store(true)
}
