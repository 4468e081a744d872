package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/ThanhDoDuy/order-system-hani-FE/client"
	"github.com/ThanhDoDuy/order-system-hani-FE/server"
)

type callbackResult struct {
	tokens client.ProviderTokens
	err    error
}

func (c *cli) loginCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with Google",
		Long: `Sign in with Google using a loopback redirect.

hanictl listens on HANI_LOGIN_ADDR for the provider callback, so
http://<HANI_LOGIN_ADDR>/api/auth/google/callback must be registered as a
redirect URI for GOOGLE_CLIENT_ID.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			user, err := c.login(ctx)
			if err != nil {
				return err
			}
			return c.print(statusView{Authenticated: true, User: user})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "How long to wait for the browser sign-in")
	return cmd
}

func (c *cli) login(ctx context.Context) (*client.UserProfile, error) {
	ln, err := net.Listen("tcp", c.env.LoginAddr)
	if err != nil {
		return nil, fmt.Errorf("listen for callback: %w", err)
	}

	cfg := server.DefaultConfig()
	cfg.Server.PublicURL = "http://" + ln.Addr().String()
	cfg.Provider.ClientID = c.env.ClientID
	cfg.Provider.ClientSecret = c.env.ClientSecret

	provider, err := c.newProvider(ctx, cfg)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	if provider.ClientID() == "" {
		_ = ln.Close()
		return nil, errors.New("GOOGLE_CLIENT_ID is not set")
	}

	pkce, err := server.GeneratePKCE()
	if err != nil {
		_ = ln.Close()
		return nil, err
	}

	results := make(chan callbackResult, 1)
	r := chi.NewRouter()
	r.Get("/api/auth/google/callback", func(w http.ResponseWriter, r *http.Request) {
		tokens, err := server.RedeemCallback(r.Context(), provider, r.URL.Query(), pkce.State, pkce.Verifier)
		if err != nil {
			var fe *server.FlowError
			if errors.As(err, &fe) {
				http.Error(w, fe.Detail, fe.Status)
			} else {
				http.Error(w, "OAuth callback error", http.StatusInternalServerError)
			}
		} else {
			fmt.Fprintln(w, "Signed in. You can close this window and return to the terminal.")
		}
		select {
		case results <- callbackResult{tokens: tokens, err: err}:
		default:
		}
	})

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			c.logger.Error("callback listener failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	c.logger.Info("auth.start", "redirect_uri", cfg.RedirectURI())
	c.browse(provider.AuthCodeURL(pkce.State, pkce.Challenge))

	var res callbackResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for sign-in: %w", ctx.Err())
	}
	if res.err != nil {
		return nil, res.err
	}

	return client.NewExchanger(c.client.Session(), c.backend()).Exchange(ctx, res.tokens)
}
