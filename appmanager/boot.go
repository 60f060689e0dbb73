package appmanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/juspay/airborne/internal/logging"
	"github.com/juspay/airborne/manifest"
	"github.com/juspay/airborne/network"
	"github.com/juspay/airborne/planner"
	"github.com/juspay/airborne/store"
	"github.com/juspay/airborne/tracker"
)

type fetchOutcome struct {
	manifest *manifest.Manifest
	err      error
}

// run is the boot flow. It owns all state transitions; worker goroutines
// report back through channels so transitions stay totally ordered.
func (m *Manager) run(ctx context.Context) {
	if err := m.recoverPromote(); err != nil {
		logging.Errorf("workspace %s: promote recovery: %v", m.workspace, err)
	}
	m.setCurrent(m.loadCurrentManifest())

	if m.cfg.UseLocalAssets {
		m.rcDone.Store(true)
		m.markAllDownloadsSettled()
		m.finish(StateReady, StatusOK, "")
		return
	}

	m.setState(StateRCFetching)
	rcTimeout := m.ReleaseConfigTimeout()
	if rcTimeout <= 0 {
		rcTimeout = defaultBootTimeout
	}

	fetchCh := make(chan fetchOutcome, 1)
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		fetched, err := m.fetchReleaseConfig(ctx)
		fetchCh <- fetchOutcome{manifest: fetched, err: err}
	}()

	timer := time.NewTimer(rcTimeout)
	defer timer.Stop()
	select {
	case out := <-fetchCh:
		m.rcDone.Store(true)
		if out.err != nil {
			m.tracker.TrackError(tracker.KeyReleaseConfig, map[string]any{"status": "error", "error": out.err.Error()})
			m.markAllDownloadsSettled()
			m.finish(StateFailed, StatusError, out.err.Error())
			return
		}
		m.tracker.TrackInfo(tracker.KeyReleaseConfig, map[string]any{"status": "fetched", "version": out.manifest.Package.Version})
		m.applyManifest(ctx, *out.manifest, false)
	case <-timer.C:
		m.setState(StateRCTimedOut)
		m.tracker.TrackWarning(tracker.KeyReleaseConfig, map[string]any{"status": "timed_out", "timeoutMs": rcTimeout.Milliseconds()})
		m.markAllDownloadsSettled()
		m.finish(StateRCTimedOut, StatusReleaseConfigTimedOut, "")
		// The fetch keeps running in the background. A late manifest is
		// applied only under the force-update policy, since the host has
		// already booted on the current one.
		m.bg.Add(1)
		go func() {
			defer m.bg.Done()
			out := <-fetchCh
			m.rcDone.Store(true)
			if out.err != nil {
				m.tracker.TrackError(tracker.KeyReleaseConfig, map[string]any{"status": "error", "error": out.err.Error()})
				return
			}
			m.tracker.TrackInfo(tracker.KeyReleaseConfig, map[string]any{"status": "fetched", "version": out.manifest.Package.Version})
			if m.cfg.ShouldForceUpdate() {
				m.applyManifest(ctx, *out.manifest, true)
			}
		}()
	}
}

// fetchReleaseConfig obtains the new manifest either through the delegate's
// custom fetcher or the built-in HTTP GET. Dimensions and delegate headers
// ride along as HTTP headers.
func (m *Manager) fetchReleaseConfig(ctx context.Context) (*manifest.Manifest, error) {
	if m.cfg.FetchReleaseConfig != nil {
		fetched, err := m.cfg.FetchReleaseConfig(ctx, m.cfg.ClientID)
		if err != nil {
			return nil, err
		}
		if fetched == nil {
			return nil, errors.New("custom release config fetch returned no manifest")
		}
		normalized := *fetched
		if err := normalized.Normalize(); err != nil {
			return nil, err
		}
		return &normalized, nil
	}

	headers := map[string]string{}
	if m.cfg.ReleaseConfigHeaders != nil {
		for k, v := range m.cfg.ReleaseConfigHeaders() {
			headers[k] = v
		}
	}
	if m.cfg.Dimensions != nil {
		for k, v := range m.cfg.Dimensions() {
			headers[k] = v
		}
	}
	resp, err := m.net.Request(ctx, "GET", m.cfg.ReleaseConfigURL, nil, headers, network.Options{})
	if err != nil {
		return nil, err
	}
	parsed, warnings, err := manifest.ParseManifest(resp.Body)
	if err != nil {
		return nil, err
	}
	for _, warning := range warnings {
		m.tracker.TrackWarning(tracker.KeyReleaseConfig, map[string]any{"status": "warning", "detail": warning})
	}
	return &parsed, nil
}

// applyManifest reconciles a fetched manifest against the workspace.
// late means the host already booted (after a timeout verdict); in that mode
// there is no boot timer and the result is never touched.
func (m *Manager) applyManifest(ctx context.Context, target manifest.Manifest, late bool) {
	blacklist := m.loadBlacklist()
	if blacklist.Contains(target.Package.Version) {
		m.tracker.TrackWarning(tracker.KeyPackageResource, map[string]any{"status": "skipped_blacklisted", "version": target.Package.Version})
		if !late {
			m.markAllDownloadsSettled()
			m.finish(StateReady, StatusOK, "")
		}
		return
	}

	current := m.CurrentApplicationManifest()
	diff := manifest.Compute(current, target)
	plan, err := planner.Build(ctx, target, m.store)
	if err != nil {
		m.failBoot(late, StatusError, fmt.Errorf("planning downloads: %w", err))
		return
	}

	if diff.Empty() && !current.Package.DefaultInit && plan.Empty() {
		if !late {
			m.importantDone.Store(true)
			m.resourcesDone.Store(true)
			m.finish(StateReady, StatusOK, "")
		}
		m.startLazyDownloads(target, plan.Lazy)
		return
	}

	if plan.Empty() {
		// nothing gates boot, but the manifest (or the removal set) changed
		m.promoteAndFinish(target, plan.Lazy, late)
		return
	}

	m.downloadAndPromote(ctx, target, plan, late)
}

// downloadAndPromote runs the important and resource tasks under the boot
// timer (unless late) and promotes on success.
func (m *Manager) downloadAndPromote(ctx context.Context, target manifest.Manifest, plan planner.Plan, late bool) {
	if !late {
		m.setState(StateDownloading)
	}
	dlCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	doneCh := make(chan error, 1)
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		doneCh <- m.executeTasks(dlCtx, plan)
	}()

	if late {
		defer cancel()
		if err := <-doneCh; err != nil {
			m.recordDownloadFailure(target, err)
			return
		}
		m.tracker.TrackInfo(tracker.KeyPackageResource, map[string]any{"status": "completed", "version": target.Package.Version})
		m.promoteAndFinish(target, plan.Lazy, true)
		return
	}

	bootTimeout := time.Duration(target.Config.BootTimeoutMS) * time.Millisecond
	timer := time.NewTimer(bootTimeout)
	defer timer.Stop()
	select {
	case err := <-doneCh:
		cancel()
		if err != nil {
			m.recordDownloadFailure(target, err)
			m.markAllDownloadsSettled()
			m.finish(StateFailed, StatusPackageDownloadFailed, err.Error())
			return
		}
		m.tracker.TrackInfo(tracker.KeyPackageResource, map[string]any{"status": "completed", "version": target.Package.Version})
		m.promoteAndFinish(target, plan.Lazy, false)
	case <-timer.C:
		m.tracker.TrackWarning(tracker.KeyBootTimeout, map[string]any{"timeoutMs": bootTimeout.Milliseconds(), "version": target.Package.Version})
		if m.cfg.ShouldForceUpdate() {
			// verdict now, downloads continue; the next launch picks up
			// the promoted version
			m.finish(StateDownloading, StatusPackageTimedOut, "")
			m.bg.Add(1)
			go func() {
				defer m.bg.Done()
				defer cancel()
				if err := <-doneCh; err != nil {
					m.recordDownloadFailure(target, err)
					return
				}
				m.tracker.TrackInfo(tracker.KeyPackageResource, map[string]any{"status": "completed", "version": target.Package.Version})
				m.promoteAndFinish(target, plan.Lazy, true)
			}()
			return
		}
		cancel()
		<-doneCh
		m.cleanupTempDirs()
		m.tracker.TrackWarning(tracker.KeyPackageResource, map[string]any{"status": "timed_out", "version": target.Package.Version})
		m.markAllDownloadsSettled()
		m.finish(StatePkgTimedOut, StatusPackageTimedOut, "")
	}
}

// promoteAndFinish runs the two-phase commit and settles the boot.
func (m *Manager) promoteAndFinish(target manifest.Manifest, lazy []planner.Task, late bool) {
	if !late {
		m.setState(StatePromoting)
	}
	if err := m.promote(target); err != nil {
		m.tracker.TrackError(tracker.KeyPromote, map[string]any{"status": "rolled_back", "version": target.Package.Version, "error": err.Error()})
		m.failBoot(late, StatusPackageDownloadFailed, err)
		return
	}
	m.tracker.TrackInfo(tracker.KeyPromote, map[string]any{"status": "ok", "version": target.Package.Version})
	m.setCurrent(target)
	if !late {
		m.importantDone.Store(true)
		m.resourcesDone.Store(true)
		m.finish(StateReady, StatusOK, "")
	} else {
		m.setState(StateReady)
	}
	m.startLazyDownloads(target, lazy)
}

func (m *Manager) recordDownloadFailure(target manifest.Manifest, err error) {
	m.addToBlacklist(target.Package.Version)
	m.cleanupTempDirs()
	m.tracker.TrackError(tracker.KeyPackageResource, map[string]any{
		"status":  "failed",
		"version": target.Package.Version,
		"error":   err.Error(),
	})
}

func (m *Manager) failBoot(late bool, status Status, err error) {
	if late {
		logging.Errorf("workspace %s: background update failed: %v", m.workspace, err)
		return
	}
	m.markAllDownloadsSettled()
	m.finish(StateFailed, status, err.Error())
}

// loadCurrentManifest restores the persisted manifest, falling back to the
// bundled defaults, falling back to a minimal built-in config.
func (m *Manager) loadCurrentManifest() manifest.Manifest {
	var (
		cfg manifest.Config
		pkg manifest.Package
		res manifest.Resources
	)
	cfgErr := m.store.Decode(store.ManifestDir, manifest.ConfigDataFile, &cfg)
	pkgErr := m.store.Decode(store.ManifestDir, manifest.PackageDataFile, &pkg)
	resErr := m.store.Decode(store.ManifestDir, manifest.ResourcesDataFile, &res)
	if cfgErr == nil && pkgErr == nil && resErr == nil {
		loaded := manifest.Manifest{Config: cfg, Package: pkg, Resources: res}
		if err := loaded.Normalize(); err == nil {
			return loaded
		}
	}

	defaults, err := m.loadBundledDefaults()
	if err != nil {
		logging.Warningf("workspace %s: no persisted manifest and no bundled defaults: %v", m.workspace, err)
		return manifest.Manifest{
			Config: manifest.Config{
				Version:                "0.0.0",
				BootTimeoutMS:          defaultBootTimeout.Milliseconds(),
				ReleaseConfigTimeoutMS: defaultBootTimeout.Milliseconds(),
			},
			Package:   manifest.Package{DefaultInit: true},
			Resources: manifest.Resources{},
		}
	}
	return *defaults
}

func (m *Manager) loadBundledDefaults() (*manifest.Manifest, error) {
	configData, err := m.store.ReadBundled(DefaultConfigAsset)
	if err != nil {
		return nil, err
	}
	var out manifest.Manifest
	if err := json.Unmarshal(configData, &out.Config); err != nil {
		return nil, manifest.DecodeError{FieldPath: DefaultConfigAsset, Reason: err.Error()}
	}
	if packageData, err := m.store.ReadBundled(DefaultPackageAsset); err == nil {
		if err := json.Unmarshal(packageData, &out.Package); err != nil {
			return nil, manifest.DecodeError{FieldPath: DefaultPackageAsset, Reason: err.Error()}
		}
	}
	out.Resources = manifest.Resources{}
	if resourcesData, err := m.store.ReadBundled(DefaultResourcesAsset); err == nil {
		if err := json.Unmarshal(resourcesData, &out.Resources); err != nil {
			return nil, manifest.DecodeError{FieldPath: DefaultResourcesAsset, Reason: err.Error()}
		}
	}
	if err := out.Normalize(); err != nil {
		return nil, err
	}
	out.Package.DefaultInit = true
	return &out, nil
}

func (m *Manager) cleanupTempDirs() {
	for _, folder := range []string{store.PackageTemp, store.ResourceTemp} {
		files, err := m.store.List(folder)
		if err != nil {
			continue
		}
		for _, name := range files {
			m.store.Delete(folder, name)
		}
	}
}
