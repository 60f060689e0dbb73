// Package api holds the host-facing configuration surface of the engine.
package api

import (
	"context"
	"errors"
	"io/fs"
	"strings"

	"github.com/juspay/airborne/manifest"
)

// FetchReleaseConfig is a host-provided release configuration fetcher.
// When set, it bypasses the built-in HTTP fetch; the release-config timeout
// still applies. It must return exactly once.
type FetchReleaseConfig func(ctx context.Context, clientID string) (*manifest.Manifest, error)

// EventFunc receives telemetry with the full six-field taxonomy.
type EventFunc func(level, label, key string, value map[string]any, category, subcategory string)

// Config is the capability record a host hands to the engine. Fields left at
// their zero value use the documented default; there are no required fields
// beyond one of ReleaseConfigURL / FetchReleaseConfig (unless UseLocalAssets
// is set).
type Config struct {
	// ClientID identifies the host application; passed to FetchReleaseConfig.
	ClientID string

	// ReleaseConfigURL is the endpoint the built-in fetch GETs the release
	// configuration from. Ignored when FetchReleaseConfig is set.
	ReleaseConfigURL string

	// ReleaseConfigHeaders returns extra HTTP headers for the built-in fetch.
	ReleaseConfigHeaders func() map[string]string

	// FetchReleaseConfig replaces the built-in fetch entirely.
	FetchReleaseConfig FetchReleaseConfig

	// Assets is the embedded bundle shipped inside the host application
	// image, used for default manifests and unchecked default files.
	// Nil means no bundled defaults.
	Assets fs.FS

	// UseLocalAssets skips all network work and boots on local state.
	UseLocalAssets bool

	// ForceUpdate allows late-arriving downloads to promote in the
	// background after the host has already booted. Nil means true.
	ForceUpdate *bool

	// Dimensions are included as HTTP headers on the manifest fetch.
	Dimensions func() map[string]string

	// Namespace overrides the workspace identifier. Empty means "default".
	Namespace string

	// StorageDir is the parent directory of all workspace roots.
	// Empty means the user cache directory.
	StorageDir string

	// OnBootComplete is called exactly once per boot, on a background
	// goroutine, with the path of the bundle the host should load.
	OnBootComplete func(bundlePath string)

	// OnEvent receives telemetry. Nil means events go to the process log.
	OnEvent EventFunc

	// Concurrency bounds parallel downloads. Zero means 4.
	Concurrency int
}

// ShouldForceUpdate resolves the ForceUpdate tri-state (default true).
func (c Config) ShouldForceUpdate() bool {
	return c.ForceUpdate == nil || *c.ForceUpdate
}

// EffectiveNamespace resolves the workspace identifier.
func (c Config) EffectiveNamespace() string {
	if c.Namespace == "" {
		return "default"
	}
	return c.Namespace
}

// DownloadConcurrency resolves the download pool size.
func (c Config) DownloadConcurrency() int {
	if c.Concurrency <= 0 {
		return 4
	}
	return c.Concurrency
}

func (c Config) Validate() error {
	issues := []string{}
	if !c.UseLocalAssets && c.ReleaseConfigURL == "" && c.FetchReleaseConfig == nil {
		issues = append(issues, "one of ReleaseConfigURL or FetchReleaseConfig must be provided")
	}
	if c.ReleaseConfigURL != "" && !strings.HasPrefix(c.ReleaseConfigURL, "http://") && !strings.HasPrefix(c.ReleaseConfigURL, "https://") {
		issues = append(issues, `ReleaseConfigURL must start with "http://" or "https://"`)
	}
	if strings.ContainsAny(c.Namespace, `/\`) {
		issues = append(issues, "Namespace must not contain path separators")
	}
	if len(issues) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(issues, "\n  "))
	}
	return nil
}

// Bool is a convenience for the tri-state fields.
func Bool(v bool) *bool {
	return &v
}
