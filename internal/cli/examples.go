package cli

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newExamplesCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "List example prompts offered by the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, newClient(v).BaseURL+"/api/examples", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("fetch examples: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("fetch examples: %s", resp.Status)
			}
			var body struct {
				Examples []string `json:"examples"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return fmt.Errorf("decode examples: %w", err)
			}
			out := cmd.OutOrStdout()
			for i, e := range body.Examples {
				fmt.Fprintf(out, "%s %s\n", dimStyle.Render(fmt.Sprintf("%2d.", i+1)), e)
			}
			return nil
		},
	}
}
