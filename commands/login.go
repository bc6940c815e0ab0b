package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/Seann-Moser/stocker/oauth/callback"
	"github.com/Seann-Moser/stocker/qr"
	"github.com/Seann-Moser/stocker/session"
)

func loginCommand(rt *runtime) *cobra.Command {
	var (
		flagEmail   string
		flagGoogle  bool
		flagQR      string
		flagTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with email and password, or with Google",
		Long: `Log in and persist the session token.

With --google a loopback listener receives the provider redirect; open the
printed URL in a browser (or scan the --qr image) to finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := rt.boot(cmd)
			if s.Authenticated() {
				fmt.Fprintf(cmd.OutOrStdout(), "Already logged in as %s\n", s.User.Email)
				return nil
			}
			if flagGoogle {
				return runGoogleLogin(cmd, rt, flagQR, flagTimeout)
			}
			return runPasswordLogin(cmd, rt, flagEmail)
		},
	}
	cmd.Flags().StringVar(&flagEmail, "email", "", "Account email (required without --google)")
	cmd.Flags().BoolVar(&flagGoogle, "google", false, "Log in through the Google redirect flow")
	cmd.Flags().StringVar(&flagQR, "qr", "", "With --google, also write the login URL as a PNG QR code to this path")
	cmd.Flags().DurationVar(&flagTimeout, "timeout", 5*time.Minute, "With --google, how long to wait for the redirect")
	return cmd
}

func runPasswordLogin(cmd *cobra.Command, rt *runtime, email string) error {
	if email == "" {
		return errors.New("--email is required")
	}
	password, err := readSecret(cmd, "Password: ")
	if err != nil {
		return err
	}
	err = rt.app.Session.Login(cmd.Context(), email, password)
	s := rt.app.Session.Snapshot()
	if err != nil {
		if errors.Is(err, session.ErrAlreadyAuthenticated) || errors.Is(err, session.ErrBusy) {
			return err
		}
		return userFacing(s.Outcome.Message, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Signed in as %s\n", s.Outcome.Message, s.User.Email)
	return nil
}

func runGoogleLogin(cmd *cobra.Command, rt *runtime, qrPath string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	results := make(chan callback.Result, 1)
	r := chi.NewRouter()
	r.Method(http.MethodGet, rt.cfg.CallbackPath, callback.NewHTTPHandler(rt.app.Session, rt.logger, callback.HTTPOptions{
		SuccessPath: "/done",
		FailurePath: "/failed",
		OnResult: func(res callback.Result) {
			select {
			case results <- res:
			default:
			}
		},
	}))
	r.Get("/done", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Signed in. You can close this window.\n"))
	})
	r.Get("/failed", func(w http.ResponseWriter, req *http.Request) {
		_, msg := callback.Classify(req.URL.Query().Get("error"))
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(msg + "\n"))
	})

	ln, err := net.Listen("tcp", rt.cfg.CallbackAddr)
	if err != nil {
		return fmt.Errorf("failed to listen for the login redirect on %s: %w", rt.cfg.CallbackAddr, err)
	}
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("callback listener stopped", "error", err)
		}
	}()
	defer func() {
		sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
	}()

	target := rt.app.Gateway.ExternalLoginURL()
	fmt.Fprintf(cmd.OutOrStdout(), "Open this URL to continue:\n  %s\n", target)
	if qrPath != "" {
		opts, err := qr.Options(rt.cfg.QRColor)
		if err != nil {
			return err
		}
		if err := qr.Create(ctx, target, qrPath, opts...); err != nil {
			return fmt.Errorf("failed writing qr code: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "QR code written to %s\n", qrPath)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Waiting for the redirect on http://%s%s ...\n", ln.Addr().String(), rt.cfg.CallbackPath)

	select {
	case res := <-results:
		if !res.OK {
			return userFacing(res.Message, res.Err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Signed in as %s\n", session.MsgLoginSuccess, res.User.Email)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gave up waiting for the login redirect: %w", ctx.Err())
	}
}
