// Package watch is a development loop: it re-runs the boot cycle whenever a
// local release-config file changes, so bundle authors can iterate without a
// server.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/juspay/airborne/appmanager"
	"github.com/juspay/airborne/cmd/internal/cmdhelper"
	"github.com/juspay/airborne/integrity"
	"github.com/juspay/airborne/internal/logging"
	"github.com/juspay/airborne/manifest"
)

func New(env cmdhelper.Env) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run the boot cycle whenever a local release-config file changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			return run(cmd.Context(), env, file)
		},
	}
	cmdhelper.RegisterCommonFlags(cmd, &env)
	cmd.Flags().StringVar(&file, "file", "", "path to a release-config JSON file")
	return cmd
}

func run(ctx context.Context, env cmdhelper.Env, file string) error {
	absFile, err := filepath.Abs(file)
	if err != nil {
		return err
	}
	lastDigest, err := bootFromFile(ctx, env, absFile, "")
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(absFile)); err != nil {
		return err
	}
	logging.Basicf("watching %s", absFile)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if event.Name != absFile {
				continue
			}
			digest, err := bootFromFile(ctx, env, absFile, lastDigest)
			if err != nil {
				logging.Errorf("boot cycle: %v", err)
				continue
			}
			lastDigest = digest
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Errorf("watcher: %v", err)
		case <-ctx.Done():
			return nil
		}
	}
}

// bootFromFile runs one boot cycle with the file contents as the release
// config. A file whose digest did not change is skipped.
func bootFromFile(ctx context.Context, env cmdhelper.Env, file string, lastDigest integrity.Checksum) (integrity.Checksum, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return lastDigest, err
	}
	digest := integrity.ChecksumData(data)
	if !lastDigest.Empty() && digest.Equals(lastDigest) {
		logging.Debugf("release config unchanged, skipping")
		return lastDigest, nil
	}

	cfg := env.BaseConfig()
	cfg.FetchReleaseConfig = func(ctx context.Context, clientID string) (*manifest.Manifest, error) {
		parsed, warnings, err := manifest.ParseManifest(data)
		if err != nil {
			return nil, err
		}
		for _, warning := range warnings {
			logging.Warningf("release config: %s", warning)
		}
		return &parsed, nil
	}

	manager, err := appmanager.New(cfg.EffectiveNamespace(), cfg)
	if err != nil {
		return lastDigest, err
	}
	manager.Start(ctx)
	result, err := manager.WaitForPackagesAndResources(ctx)
	if err != nil {
		return lastDigest, err
	}
	bundlePath, _ := manager.BundlePath()
	logging.Basicf("boot: %s (bundle %s)", result.Status, bundlePath)
	manager.Close()
	return digest, nil
}
