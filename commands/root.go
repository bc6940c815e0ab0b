// Package commands implements the stocker CLI on top of one App per
// invocation.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Seann-Moser/stocker"
	"github.com/Seann-Moser/stocker/config"
	"github.com/Seann-Moser/stocker/guard"
	"github.com/Seann-Moser/stocker/identity"
	"github.com/Seann-Moser/stocker/session"
)

// runtime is shared by every subcommand of one invocation.
type runtime struct {
	configFile string
	cfg        *config.Config
	logger     *slog.Logger
	app        *stocker.App
}

// NewRootCommand builds the stocker command tree.
func NewRootCommand(version string) *cobra.Command {
	rt := &runtime{}
	cmd := &cobra.Command{
		Use:           "stocker",
		Short:         "Sign in to the stock analysis API and call it with your session",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.app == nil {
				return nil
			}
			return rt.app.Close(context.WithoutCancel(cmd.Context()))
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&rt.configFile, "config", "", "Config file (default ~/.stocker/config.yaml)")
	pf.String("api-url", "", "API base url (overrides api.base-url)")
	pf.String("store", "", "Credential store backend: file, memory, redis, mongo")
	pf.String("store-path", "", "Token file for the file backend")
	pf.String("profile", "", "Credential profile name for shared backends")
	pf.BoolP("verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(loginCommand(rt))
	cmd.AddCommand(registerCommand(rt))
	cmd.AddCommand(logoutCommand(rt))
	cmd.AddCommand(whoamiCommand(rt))
	cmd.AddCommand(statusCommand(rt))
	cmd.AddCommand(apiCommand(rt))
	cmd.AddCommand(passwordCommand(rt))
	cmd.AddCommand(serveCommand(rt))
	return cmd
}

var flagKeys = map[string]string{
	"api-url":    "api.base-url",
	"store":      "store.backend",
	"store-path": "store.path",
	"profile":    "store.profile",
	"verbose":    "log.verbose",
}

func (rt *runtime) init(cmd *cobra.Command) error {
	v, err := config.New(rt.configFile)
	if err != nil {
		return err
	}
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Root().PersistentFlags().Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	rt.cfg = cfg

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	rt.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	app, err := stocker.New(cmd.Context(), cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	rt.app = app
	return nil
}

// boot runs the initial verification. Failures of a stored token are
// reported but do not stop the command; the session is anonymous.
func (rt *runtime) boot(cmd *cobra.Command) session.Snapshot {
	if err := rt.app.Session.Boot(cmd.Context()); err != nil {
		rt.logger.Debug("initial verification failed", "error", err)
	}
	s := rt.app.Session.Snapshot()
	if s.Outcome.Kind == session.OutcomeFailure {
		fmt.Fprintln(cmd.ErrOrStderr(), s.Outcome.Message)
	}
	return s
}

// require is guard.Require for commands that need a session.
func (rt *runtime) require(cmd *cobra.Command) (session.Snapshot, error) {
	rt.boot(cmd)
	s, err := guard.Require(cmd.Context(), rt.app.Session)
	if errors.Is(err, guard.ErrLoginRequired) {
		return s, errors.New("not logged in, run `stocker login` first")
	}
	return s, err
}

// outcomeError prints as the message shown to the user and unwraps to the
// gateway or session error behind it.
type outcomeError struct {
	msg string
	err error
}

func (e *outcomeError) Error() string { return e.msg }

func (e *outcomeError) Unwrap() error { return e.err }

func userFacing(msg string, err error) error {
	if msg == "" {
		msg = identity.UserMessage(err)
	}
	return &outcomeError{msg: msg, err: err}
}

func printOutcome(cmd *cobra.Command, s session.Snapshot) {
	if s.Outcome.Message == "" {
		return
	}
	if s.Outcome.Kind == session.OutcomeFailure {
		fmt.Fprintln(cmd.ErrOrStderr(), s.Outcome.Message)
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), s.Outcome.Message)
}
