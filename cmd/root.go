// Package cmd implements the command-line interface of the ALTO editor backend.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rrandiak/altoEditorAPI-sub000/cmd/common"
	"github.com/rrandiak/altoEditorAPI-sub000/cmd/engines"
	"github.com/rrandiak/altoEditorAPI-sub000/cmd/jobs"
	"github.com/rrandiak/altoEditorAPI-sub000/cmd/migrate"
	"github.com/rrandiak/altoEditorAPI-sub000/cmd/serve"
)

var rootCmd = &cobra.Command{
	Use:          "alto-editor",
	Short:        "ALTO/OCR editor backend",
	Long:         `Job processing and content versioning backend for editing ALTO and OCR of digitized pages.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().String(common.KeyConfig, "", "config file (default is $CONFIG_PATH or ./config.yml)")
	rootCmd.PersistentFlags().Bool(common.KeyDebug, false, "enable debug logging")
	cobra.CheckErr(viper.BindPFlag(common.KeyConfig, rootCmd.PersistentFlags().Lookup(common.KeyConfig)))
	cobra.CheckErr(viper.BindPFlag(common.KeyDebug, rootCmd.PersistentFlags().Lookup(common.KeyDebug)))
	cobra.CheckErr(viper.BindEnv(common.KeyConfig, "CONFIG_PATH"))
	cobra.CheckErr(viper.BindEnv(common.KeyDebug, "APP_DEBUG"))
	viper.SetDefault(common.KeyConfig, common.DefaultConfigPath)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "alto-editor version %s\n", common.Version)
		},
	})

	rootCmd.AddCommand(serve.Command())
	rootCmd.AddCommand(migrate.Command())
	rootCmd.AddCommand(jobs.Command())
	rootCmd.AddCommand(engines.Command())
}
