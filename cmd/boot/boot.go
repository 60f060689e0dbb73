// Package boot runs one OTA boot cycle against a workspace.
package boot

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/juspay/airborne"
	"github.com/juspay/airborne/cmd/internal/cmdhelper"
)

func New(env cmdhelper.Env) *cobra.Command {
	var releaseConfigURL string
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Fetch the release config, download updates, and print the bundle path",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := env.BaseConfig()
			if releaseConfigURL != "" {
				cfg.ReleaseConfigURL = releaseConfigURL
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()

			instance, err := airborne.SharedInstance(ctx, cfg)
			if err != nil {
				return err
			}
			result, err := instance.WaitForBoot(ctx)
			if err != nil {
				return err
			}
			bundlePath, err := instance.BundlePath()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status: %s\n", result.Status)
			if result.Error != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "error: %s\n", result.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "bundle: %s\n", bundlePath)
			return nil
		},
	}
	cmdhelper.RegisterCommonFlags(cmd, &env)
	cmd.Flags().StringVar(&releaseConfigURL, "release-config-url", "", "release config endpoint (overrides AIRBORNE_RELEASE_CONFIG_URL)")
	cmd.Flags().DurationVar(&wait, "wait", time.Minute, "overall deadline for the boot cycle")
	return cmd
}
