package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Seann-Moser/stocker/web"
)

func serveCommand(rt *runtime) *cobra.Command {
	var flagAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local sign-in pages, callback path and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			addr := rt.cfg.ServeAddr
			if flagAddr != "" {
				addr = flagAddr
			}
			h, err := web.NewRouter(web.Options{
				Session:          rt.app.Session,
				ExternalLoginURL: rt.app.Gateway.ExternalLoginURL(),
				LoginPath:        rt.cfg.LoginPath,
				CallbackPath:     rt.cfg.CallbackPath,
				QRColor:          rt.cfg.QRColor,
				Metrics:          rt.app.Metrics.Handler(),
				Logger:           rt.logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

			// pages show a placeholder until this resolves
			go rt.boot(cmd)

			errc := make(chan error, 1)
			go func() {
				errc <- srv.ListenAndServe()
			}()
			fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s\n", addr)

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		},
	}
	cmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (overrides serve.addr)")
	return cmd
}
