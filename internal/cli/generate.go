package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gaspardpetit/uigen/internal/apierror"
	"github.com/gaspardpetit/uigen/internal/client"
	"github.com/gaspardpetit/uigen/internal/preview"
)

func newGenerateCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <prompt...>",
		Short: "Stream a component for prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if t := v.GetDuration("timeout"); t > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, t)
				defer cancel()
			}
			return runGenerate(ctx, v, strings.Join(args, " "), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().Bool("highlight", false, "print the final code with syntax highlighting instead of streaming it")
	cmd.Flags().String("harness-out", "", "also write a runnable preview harness to this file")
	cmd.Flags().BoolP("quiet", "q", false, "print only the final code")
	_ = v.BindPFlag("highlight", cmd.Flags().Lookup("highlight"))
	_ = v.BindPFlag("harness_out", cmd.Flags().Lookup("harness-out"))
	_ = v.BindPFlag("quiet", cmd.Flags().Lookup("quiet"))
	return cmd
}

func runGenerate(ctx context.Context, v *viper.Viper, prompt string, out, errOut io.Writer) error {
	highlight := v.GetBool("highlight")
	quiet := v.GetBool("quiet")
	streaming := !highlight && !quiet

	if !quiet {
		fmt.Fprintln(errOut, headStyle.Render("Generating")+" "+dimStyle.Render(prompt))
	}
	printed := 0
	res, err := newClient(v).Generate(ctx, prompt, nil, func(buf string) {
		if streaming {
			_, _ = io.WriteString(out, buf[printed:])
			printed = len(buf)
		}
	})

	var ge *client.GenerationError
	switch {
	case errors.Is(err, client.ErrCanceled):
		if printed > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(errOut, dimStyle.Render("Generation stopped"))
		return nil
	case errors.Is(err, client.ErrTimeout):
		if printed > 0 {
			fmt.Fprintln(out)
		}
		return errors.New(errStyle.Render("Error: ") + apierror.FriendlyMessage(apierror.Classify(err)))
	case errors.As(err, &ge):
		if printed > 0 {
			fmt.Fprintln(out)
		}
		return errors.New(errStyle.Render("Error: ") + ge.Message)
	case err != nil:
		msg := err.Error()
		if apierror.KindOf(err) == apierror.Internal && !isRelayError(err) {
			msg = apierror.FriendlyMessage(apierror.Classify(err))
		}
		return errors.New(errStyle.Render("Error: ") + msg)
	}

	switch {
	case highlight:
		if err := Highlight(out, res.Code); err != nil {
			return err
		}
		fmt.Fprintln(out)
	case quiet:
		fmt.Fprintln(out, res.Code)
	default:
		fmt.Fprintln(out)
	}

	if path := v.GetString("harness_out"); path != "" {
		if err := writeHarness(path, res.Code); err != nil {
			return err
		}
		if !quiet {
			fmt.Fprintln(errOut, dimStyle.Render("Preview harness written to "+path))
		}
	}
	if !quiet {
		status := "App generated successfully!"
		if !res.Done {
			status = "Stream ended before completion"
		}
		fmt.Fprintln(errOut, okStyle.Render(status)+" "+dimStyle.Render(fmt.Sprintf("(%d bytes, %s)", len(res.Code), res.GenerationID)))
	}
	return nil
}

// isRelayError reports whether err carries a message written by the relay.
func isRelayError(err error) bool {
	var ae *apierror.Error
	return errors.As(err, &ae) && ae.Message != ""
}

func writeHarness(path, code string) error {
	h, err := preview.Wrap(code)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(h.Source), 0o644)
}
