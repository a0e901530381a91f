package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gaspardpetit/uigen/internal/preview"
)

func newPreviewCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview <component-file>",
		Short: "Wrap a component file in a runnable preview harness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			h, err := preview.Wrap(string(code))
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if path := v.GetString("preview_out"); path != "" {
				return os.WriteFile(path, []byte(h.Source), 0o644)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), h.Source)
			return err
		},
	}
	cmd.Flags().StringP("out", "o", "", "write the harness to this file instead of stdout")
	_ = v.BindPFlag("preview_out", cmd.Flags().Lookup("out"))
	return cmd
}
