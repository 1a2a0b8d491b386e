package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iloncka-ds/culicidaelab-server-sub001/cmd/backup"
	"github.com/iloncka-ds/culicidaelab-server-sub001/cmd/identify"
	"github.com/iloncka-ds/culicidaelab-server-sub001/cmd/serve"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "culicidaelab",
		Short: "CulicidaeLab-Go CLI",
	}

	// Set up the global flags for the root command.
	setupFlags(rootCmd, settings)

	// Add sub-commands to the root command.
	subcommands := []*cobra.Command{
		serve.Command(settings),
		identify.Command(settings),
		backup.Command(settings),
	}

	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Parse the command line flags
		if err := cmd.Flags().Parse(args); err != nil {
			return err
		}

		// Locale accepts a two-letter code or a full language name;
		// reference reads fall back to English for anything unknown.
		normalized, err := conf.NormalizeLocale(settings.Reference.DefaultLocale)
		if err != nil {
			return err
		}
		settings.Reference.DefaultLocale = normalized

		return nil
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Reference.DefaultLocale, "locale", viper.GetString("reference.defaultlocale"), "Set the locale for reference metadata. Accepts full name or 2-letter code.")
	rootCmd.PersistentFlags().StringVar(&settings.Model.WeightsPath, "model", viper.GetString("model.weightspath"), "Path to the model weights file")
	rootCmd.PersistentFlags().StringVar(&settings.Model.LabelsPath, "labels", viper.GetString("model.labelspath"), "Path to the model labels file")
	rootCmd.PersistentFlags().IntVar(&settings.Model.Threads, "threads", viper.GetInt("model.threads"), "Number of inference threads, 0 to use all performance cores")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
