// Package airborne keeps JavaScript/asset bundles of a host application up
// to date over the air. The host asks for the per-namespace instance at
// startup, waits for the boot verdict, and reads the promoted bundle from
// disk.
package airborne

import (
	"context"
	"sync"

	"github.com/juspay/airborne/api"
	"github.com/juspay/airborne/appmanager"
	"github.com/juspay/airborne/store"
	"github.com/juspay/airborne/tracker"
)

// Instance is the host-facing surface for one namespace.
type Instance struct {
	manager *appmanager.Manager
}

var registry = struct {
	sync.Mutex
	instances map[string]*Instance
}{instances: map[string]*Instance{}}

// SharedInstance returns the singleton instance for the namespace in cfg,
// creating (and starting) it when absent or when the existing one failed
// terminally. The returned instance is shared process-wide.
func SharedInstance(ctx context.Context, cfg api.Config) (*Instance, error) {
	namespace := cfg.EffectiveNamespace()

	registry.Lock()
	defer registry.Unlock()
	if existing, ok := registry.instances[namespace]; ok && !existing.manager.State().Replaceable() {
		return existing, nil
	}

	manager, err := appmanager.New(namespace, cfg)
	if err != nil {
		return nil, err
	}
	manager.Start(ctx)
	instance := &Instance{manager: manager}
	registry.instances[namespace] = instance
	return instance, nil
}

// Manager exposes the underlying application manager.
func (i *Instance) Manager() *appmanager.Manager {
	return i.manager
}

// AddSink registers a telemetry sink on the instance's tracker.
func (i *Instance) AddSink(sink tracker.Sink) {
	i.manager.AddSink(sink)
}

// WaitForBoot blocks until the boot verdict for this launch.
func (i *Instance) WaitForBoot(ctx context.Context) (appmanager.DownloadResult, error) {
	return i.manager.WaitForPackagesAndResources(ctx)
}

// BundlePath returns the filesystem path of the promoted entry file.
func (i *Instance) BundlePath() (string, error) {
	return i.manager.BundlePath()
}

// FileContent reads a file by relative path, looking in the live package
// directory first and the live resources directory second.
func (i *Instance) FileContent(relative string) ([]byte, error) {
	data, err := i.manager.ReadPackageFile(relative)
	if err == nil {
		return data, nil
	}
	return i.manager.ReadResourceFile(relative)
}

// ReleaseConfig returns the JSON of the currently live release
// configuration.
func (i *Instance) ReleaseConfig() ([]byte, error) {
	return i.manager.ReleaseConfigJSON()
}

// Workspace folder names re-exported for hosts that inspect the tree.
const (
	PackageMainDir  = store.PackageMain
	ResourceMainDir = store.ResourceMain
)

// resetRegistry is a test hook.
func resetRegistry() {
	registry.Lock()
	defer registry.Unlock()
	registry.instances = map[string]*Instance{}
}
