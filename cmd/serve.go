package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/telesales-timesheet/internal/auth"
	"github.com/Tiliavir/telesales-timesheet/internal/config"
	"github.com/Tiliavir/telesales-timesheet/internal/docstore/sqlitestore"
	"github.com/Tiliavir/telesales-timesheet/internal/server"
)

var (
	serveAddr string
	serveDB   string

	tokenSub   string
	tokenName  string
	tokenEmail string
	tokenRole  string
	tokenTTL   time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the remote document store over HTTP",
	Long: `Serve exposes a SQLite document store to agents and supervisors using the
http remote driver. Clients obtain bearer tokens from /oauth/token with the
client credentials configured under server.clients; agents may only write
their own documents. /metrics and /healthz are unauthenticated.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage server bearer tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Print a static bearer token for remote.token",
	Args:  cobra.NoArgs,
	RunE:  runTokenIssue,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr)")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "SQLite database (default: server.db)")

	tokenIssueCmd.Flags().StringVar(&tokenSub, "sub", "", "User id the token acts as (required)")
	tokenIssueCmd.Flags().StringVar(&tokenName, "name", "", "Display name")
	tokenIssueCmd.Flags().StringVar(&tokenEmail, "email", "", "E-mail address")
	tokenIssueCmd.Flags().StringVar(&tokenRole, "role", string(auth.RoleAgent), "agent or supervisor")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 30*24*time.Hour, "Token lifetime")
	_ = tokenIssueCmd.MarkFlagRequired("sub")

	tokenCmd.AddCommand(tokenIssueCmd)
}

// serverClients converts the configured client accounts.
func serverClients(cfg config.ServerConfig) (map[string]server.Client, error) {
	out := make(map[string]server.Client, len(cfg.Clients))
	for id, c := range cfg.Clients {
		if c.Secret == "" || c.UserID == "" {
			return nil, fmt.Errorf("server.clients.%s: secret and user_id are required", id)
		}
		role, err := auth.ParseRole(c.Role)
		if err != nil {
			return nil, fmt.Errorf("server.clients.%s: %w", id, err)
		}
		out[id] = server.Client{
			Secret:   c.Secret,
			Identity: auth.Identity{ID: c.UserID, Name: c.Name, Email: c.Email, Role: role},
		}
	}
	return out, nil
}

func tokenManager(cfg config.ServerConfig) (*auth.TokenManager, error) {
	if cfg.TokenSecret == "" {
		return nil, errors.New("server.token_secret is not set in config")
	}
	return auth.NewTokenManager(cfg.TokenSecret, cfg.Issuer), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e := loadEnv()
	sc := e.cfg.Server

	tokens, err := tokenManager(sc)
	if err != nil {
		usage(err.Error())
	}
	clients, err := serverClients(sc)
	if err != nil {
		usage(err.Error())
	}
	ttl, err := sc.TTL()
	if err != nil {
		usage(err.Error())
	}

	addr := sc.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	db := sc.DB
	if serveDB != "" {
		db = serveDB
	}

	store, err := sqlitestore.Open(ctx, config.ResolvePath(e.base, db), e.log)
	if err != nil {
		fail(err)
	}
	defer store.Close()

	srv := server.New(store, tokens, clients, e.log)
	srv.SetTokenTTL(ttl)
	fmt.Printf("Serving %s on %s (%d client(s))\n", db, addr, len(clients))
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		fail(err)
	}
	return nil
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	e := loadEnv()
	tokens, err := tokenManager(e.cfg.Server)
	if err != nil {
		usage(err.Error())
	}
	role, err := auth.ParseRole(tokenRole)
	if err != nil {
		usage(err.Error())
	}
	tok, exp, err := tokens.Issue(auth.Identity{ID: tokenSub, Name: tokenName, Email: tokenEmail, Role: role}, tokenTTL)
	if err != nil {
		fail(err)
	}
	fmt.Println(tok)
	fmt.Fprintf(cmd.ErrOrStderr(), "Expires %s\n", exp.Local().Format(time.RFC3339))
	return nil
}
