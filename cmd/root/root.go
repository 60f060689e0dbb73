// Package root assembles the airborne command tree.
package root

import (
	"github.com/spf13/cobra"

	"github.com/juspay/airborne/cmd/boot"
	"github.com/juspay/airborne/cmd/dump"
	"github.com/juspay/airborne/cmd/internal/cmdhelper"
	"github.com/juspay/airborne/cmd/watch"
)

func New() (*cobra.Command, error) {
	env, err := cmdhelper.LoadEnv()
	if err != nil {
		return nil, err
	}
	rootCmd := &cobra.Command{
		Use:           "airborne",
		Short:         "Over-the-air application bundle updates",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(boot.New(env))
	rootCmd.AddCommand(dump.New(env))
	rootCmd.AddCommand(watch.New(env))
	return rootCmd, nil
}
