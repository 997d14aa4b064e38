package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Exchange the configured WSKey for an access token",
		Long: `Perform a client-credentials token exchange with the OCLC authorization
server and persist the resulting access and refresh tokens. Subsequent
commands reuse the saved tokens and refresh them as needed.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := rt.Tokens.Login(ctx); err != nil {
		return err
	}

	creds := rt.Tokens.Credentials()
	rt.Logger.Info("login successful",
		slog.Time("access_expires_at", creds.AccessExpiresAt),
		slog.Bool("refresh_token_granted", creds.HasRefreshToken()),
	)

	statusf("Login successful. Access token valid until %s.\n",
		creds.AccessExpiresAt.UTC().Format("2006-01-02 15:04:05Z"))

	return nil
}
