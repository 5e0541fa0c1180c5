package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	baseURL    string
	token      string
}

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "config/config.yaml"
	}

	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "quizctl",
		Short:        "Browse, take and author quizzes against the quiz service",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", envConfig, "path to YAML config")
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "", "quiz service URL (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.token, "token", "", "bearer token (overrides config)")
	cmd.AddCommand(newCatalogCmd(opts))
	cmd.AddCommand(newTakeCmd(opts))
	cmd.AddCommand(newCreateCmd(opts))
	cmd.AddCommand(newDraftsCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	return cmd
}
