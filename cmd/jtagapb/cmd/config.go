package cmd

import (
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/jtagapb/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as CUE",
	Long: `Print the configuration after defaults, the --config file and command line
overrides have been applied. The output is a valid configuration file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := config.Format(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(append(src, '\n'))
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
