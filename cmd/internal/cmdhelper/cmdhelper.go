// Package cmdhelper carries the flag/environment plumbing shared by the
// airborne subcommands.
package cmdhelper

import (
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"github.com/juspay/airborne/api"
	"github.com/juspay/airborne/internal/logging"
)

// Env is the environment-variable configuration (AIRBORNE_* prefix).
// Flags override environment values.
type Env struct {
	StorageDir       string `envconfig:"STORAGE_DIR"`
	LogLevel         string `envconfig:"LOG_LEVEL" default:"basic"`
	ReleaseConfigURL string `envconfig:"RELEASE_CONFIG_URL"`
	Namespace        string `envconfig:"NAMESPACE" default:"default"`
	ClientID         string `envconfig:"CLIENT_ID"`
}

func LoadEnv() (Env, error) {
	var env Env
	if err := envconfig.Process("airborne", &env); err != nil {
		return Env{}, err
	}
	logging.SetLevel(logging.FromString(env.LogLevel))
	return env, nil
}

// RegisterCommonFlags wires the flags every subcommand shares into the
// pre-populated Env defaults.
func RegisterCommonFlags(cmd *cobra.Command, env *Env) {
	cmd.Flags().StringVar(&env.StorageDir, "storage-dir", env.StorageDir, "parent directory for workspace state")
	cmd.Flags().StringVar(&env.Namespace, "namespace", env.Namespace, "workspace namespace")
	cmd.Flags().StringVar(&env.ClientID, "client-id", env.ClientID, "client identifier sent to the release config endpoint")
}

// BaseConfig converts the resolved environment into an engine config.
func (e Env) BaseConfig() api.Config {
	return api.Config{
		ClientID:         e.ClientID,
		ReleaseConfigURL: e.ReleaseConfigURL,
		Namespace:        e.Namespace,
		StorageDir:       e.StorageDir,
	}
}
