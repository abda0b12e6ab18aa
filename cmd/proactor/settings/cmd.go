package settings

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/proactor/pkg/proactor"
	"github.com/randalmurphal/proactor/pkg/proactor/config"
)

func NewConfigCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Prints the effective engine settings as YAML",
		Long: `Prints the settings a strategy would run with: built-in defaults
overlaid with the file given by --config. Invalid files are reported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []proactor.Option{}
			if path != "" {
				cfg, err := config.FromFile(path)
				if err != nil {
					return err
				}
				opts = append(opts, proactor.WithConfig(cfg))
			}
			s, err := proactor.NewProactor(opts...)
			if err != nil {
				return err
			}

			out, err := config.ToYAML(s.Settings())
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "settings file (.yaml, .yml or .json)")
	return cmd
}
