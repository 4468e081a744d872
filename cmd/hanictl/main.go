// Command hanictl signs an operator in to the order dashboard backend and
// exposes its REST resources from the terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ThanhDoDuy/order-system-hani-FE/client"
	"github.com/ThanhDoDuy/order-system-hani-FE/server"
)

const sessionNamespace = "cli"

// cliEnv is read from the environment (and .env) on every invocation.
type cliEnv struct {
	APIBase      string `env:"HANI_API_BASE_URL" envDefault:"http://localhost:8000/api" validate:"required,url"`
	StateDB      string `env:"HANI_STATE_DB"`
	ClientID     string `env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	LoginAddr    string `env:"HANI_LOGIN_ADDR" envDefault:"127.0.0.1:8765" validate:"required"`
}

type cli struct {
	out    io.Writer
	errOut io.Writer

	verbose bool
	env     cliEnv
	logger  *slog.Logger
	store   *client.SQLiteStore
	client  *client.Client
	api     *client.API

	newProvider func(ctx context.Context, cfg server.Config) (server.IdentityProvider, error)
	browse      func(authURL string)
}

func newCLI(out, errOut io.Writer) *cli {
	c := &cli{out: out, errOut: errOut}
	c.newProvider = func(ctx context.Context, cfg server.Config) (server.IdentityProvider, error) {
		p, err := server.NewOAuthProvider(ctx, cfg, nil, c.logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	c.browse = func(authURL string) {
		fmt.Fprintf(c.errOut, "Open this URL in your browser to sign in:\n\n  %s\n\n", authURL)
	}
	return c
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newCLI(os.Stdout, os.Stderr).execute(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// execute runs one invocation and releases the state database afterwards,
// whether or not the command succeeded.
func (c *cli) execute(ctx context.Context, args []string) error {
	root := c.rootCmd()
	root.SetArgs(args)
	defer c.close()
	return root.ExecuteContext(ctx)
}

func (c *cli) close() {
	if c.store != nil {
		_ = c.store.Close()
		c.store = nil
	}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hanictl",
		Short:         "Order dashboard command line client",
		Long:          `hanictl signs in with Google, keeps the backend session on disk and calls the dashboard API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
	}
	root.SetOut(c.out)
	root.SetErr(c.errOut)
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Log session activity to stderr")

	root.AddCommand(
		c.loginCmd(),
		c.logoutCmd(),
		c.statusCmd(),
		c.refreshCmd(),
		c.ordersCmd(),
		c.productsCmd(),
		c.categoriesCmd(),
		c.statsCmd(),
		c.usersCmd(),
		c.rolesCmd(),
		c.permissionsCmd(),
	)
	return root
}

func (c *cli) setup() error {
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	c.logger = slog.New(slog.NewTextHandler(c.errOut, &slog.HandlerOptions{Level: level}))

	if err := env.Parse(&c.env); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if err := validator.New().Struct(c.env); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	if c.env.StateDB == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("locate config dir: %w", err)
		}
		c.env.StateDB = filepath.Join(dir, "hanictl", "session.db")
	}

	store, err := client.OpenSQLite(c.env.StateDB)
	if err != nil {
		return err
	}
	c.store = store

	session := client.NewSession(store.Namespace(sessionNamespace), client.WithLogger(c.logger))
	c.client = client.New(session, c.backend(), client.OnAuthRequired(func(context.Context) {
		fmt.Fprintln(c.errOut, "Your session has expired. Run 'hanictl login' to sign in again.")
	}))
	c.api = client.NewAPI(c.client)
	return nil
}

func (c *cli) backend() client.BackendConfig {
	return client.BackendConfig{APIBase: c.env.APIBase, Logger: c.logger}
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := c.client.Session().Clear(ctx); err != nil {
				return err
			}
			if err := c.store.DropNamespace(ctx, sessionNamespace); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "Signed out.")
			return nil
		},
	}
}

type statusView struct {
	Authenticated bool                `json:"authenticated"`
	ExpiresAt     *time.Time          `json:"expiresAt,omitempty"`
	User          *client.UserProfile `json:"user,omitempty"`
}

func (c *cli) status(ctx context.Context) statusView {
	session := c.client.Session()
	view := statusView{Authenticated: session.IsAuthenticated(ctx)}
	if !view.Authenticated {
		return view
	}
	if exp := session.ExpiryAt(ctx); !exp.IsZero() {
		view.ExpiresAt = &exp
	}
	view.User = session.User(ctx)
	return view
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a session is stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.print(c.status(cmd.Context()))
		},
	}
}

func (c *cli) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := c.client.Refresher().Refresh(cmd.Context())
			if err != nil {
				return err
			}
			if token == "" {
				fmt.Fprintln(c.errOut, "No usable refresh token. Run 'hanictl login' to sign in again.")
				return client.ErrAuthenticationRequired
			}
			return c.print(c.status(cmd.Context()))
		},
	}
}

func (c *cli) print(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, string(b))
	return err
}
