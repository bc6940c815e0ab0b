package commands

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

func apiCommand(rt *runtime) *cobra.Command {
	var flagData string
	cmd := &cobra.Command{
		Use:   "api METHOD PATH",
		Short: "Call an authenticated API endpoint with the current session",
		Example: `  stocker api GET /analysis
  stocker api POST /prediction --data '{"symbol":"ACME"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := rt.require(cmd); err != nil {
				return err
			}
			var body io.Reader
			if flagData != "" {
				body = strings.NewReader(flagData)
			}
			resp, err := rt.app.Do(cmd.Context(), args[0], args[1], body)
			if err != nil {
				return err
			}
			defer func() {
				_ = resp.Body.Close()
			}()
			if _, err := io.Copy(cmd.OutOrStdout(), resp.Body); err != nil {
				return err
			}
			if resp.StatusCode == http.StatusUnauthorized {
				return fmt.Errorf("%s", rt.app.Session.Snapshot().Outcome.Message)
			}
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return fmt.Errorf("%s %s: %s", strings.ToUpper(args[0]), args[1], resp.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flagData, "data", "", "JSON request body")
	return cmd
}
