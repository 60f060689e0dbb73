// Package dump prints the currently live release configuration of a
// workspace.
package dump

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/juspay/airborne"
	"github.com/juspay/airborne/cmd/internal/cmdhelper"
)

func New(env cmdhelper.Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the live release config as JSON (no network access)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := env.BaseConfig()
			cfg.UseLocalAssets = true

			instance, err := airborne.SharedInstance(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if _, err := instance.WaitForBoot(cmd.Context()); err != nil {
				return err
			}
			raw, err := instance.ReleaseConfig()
			if err != nil {
				return err
			}
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, raw, "", "  "); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
			return nil
		},
	}
	cmdhelper.RegisterCommonFlags(cmd, &env)
	return cmd
}
