package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	devMode bool
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	return newRootCmd(version, commit, date).Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taskauthd",
		Short: "Authentication and request security for the task service",
		Long: `taskauthd serves the task service authentication API: registration, login,
token refresh, password reset, API keys and the request security pipeline.

Configuration is read from taskauth.yaml and TASKAUTH_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./taskauth.yaml)")
	cmd.PersistentFlags().BoolVar(&devMode, "dev", false, "development mode (generated secrets, in-memory cache fallback, debug logs)")

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newAPIKeyCmd())
	cmd.AddCommand(newSecurityCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("taskauth")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.taskauth")
		viper.AddConfigPath("/etc/taskauth")
	}

	setDefaults(viper.GetViper())

	viper.SetEnvPrefix("TASKAUTH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.ReadInConfig() // Ignore error - config file is optional
}
