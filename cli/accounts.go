package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/room4-2/studytutor/config"
	"github.com/room4-2/studytutor/ledger"
	"github.com/room4-2/studytutor/store"
)

func init() {
	accounts := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect and adjust point balances in the configured store",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every account",
		Args:  cobra.NoArgs,
		RunE:  runAccountsList,
	}

	adjust := &cobra.Command{
		Use:   "adjust <email> <delta>",
		Short: "Add or remove points, clamping the balance at zero",
		Args:  cobra.ExactArgs(2),
		RunE:  runAccountsAdjust,
	}

	accounts.AddCommand(list, adjust)
	RootCmd.AddCommand(accounts)
}

// openAccounts opens the same store the server uses
func openAccounts(ctx context.Context, cfg *config.Config) (*store.Fallback, error) {
	local, err := store.NewSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	var remote store.Backend
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			local.Close()
			return nil, err
		}
		remote = pg
	}
	return store.NewFallback(remote, local, cfg.StoreRetry), nil
}

func runAccountsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openAccounts(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	all, err := s.GetAll(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, a := range all {
		fmt.Fprintf(out, "%-32s %6d IP  %s\n", a.Email, a.Points, a.Name)
	}
	return nil
}

func runAccountsAdjust(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	delta, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid delta %q: %w", args[1], err)
	}
	s, err := openAccounts(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	l := ledger.New(s, ledger.Policy{Admins: cfg.AdminEmails, Banned: cfg.BannedEmails}, nil, cfg.SignupBonus)
	balance, err := l.Adjust(cmd.Context(), strings.ToLower(args[0]), delta)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d IP\n", args[0], balance)
	return nil
}
