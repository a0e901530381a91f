// Package cli implements the uigen command line client.
package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gaspardpetit/uigen/internal/client"
	"github.com/gaspardpetit/uigen/internal/logx"
)

const envPrefix = "UIGEN"

// NewRootCmd builds the command tree. Settings come from flags, UIGEN_*
// environment variables and an optional YAML config file, in that order of
// precedence.
func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "uigen",
		Short:         "Generate React components from a text prompt",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config: %w", err)
				}
			}
			logx.Configure(v.GetString("log_level"))
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (yaml)")
	root.PersistentFlags().StringP("server", "s", "http://localhost:8080", "relay base URL")
	root.PersistentFlags().Duration("timeout", 2*time.Minute, "overall generation timeout")
	root.PersistentFlags().StringP("log-level", "l", "warn", "log level")
	_ = v.BindPFlag("server", root.PersistentFlags().Lookup("server"))
	_ = v.BindPFlag("timeout", root.PersistentFlags().Lookup("timeout"))
	_ = v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(newGenerateCmd(v), newExamplesCmd(v), newPreviewCmd(v))
	return root
}

func newClient(v *viper.Viper) *client.Client {
	c := client.New(v.GetString("server"))
	c.Log = logx.Log
	return c
}
