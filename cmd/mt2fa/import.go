package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	sqliteadapter "github.com/ericfisherdev/mt2fa/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/mt2fa/internal/adapter/driving/accountfile"
)

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Upsert accounts from a YAML file",
	Long: `Create or update accounts by name from a YAML accounts file. Passwords
and TOTP secrets are encrypted with MT2FA_MASTER_KEY before they are stored.
Invalid entries are reported and skipped; the command then exits 1.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd.Context(), cmd.OutOrStdout(), args[0])
	},
}

func runImport(ctx context.Context, out io.Writer, path string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	db, v, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	syncer := accountfile.NewSyncer(sqliteadapter.NewAccountRepo(db), v, logger)
	res, err := syncer.Sync(ctx, path)
	if err != nil {
		return err
	}

	return reportImport(out, res)
}

func reportImport(out io.Writer, res accountfile.Result) error {
	fmt.Fprintf(out, "created: %d, updated: %d, unchanged: %d, rejected: %d\n",
		len(res.Created), len(res.Updated), len(res.Unchanged), len(res.Rejected))

	if len(res.Rejected) == 0 {
		return nil
	}

	names := make([]string, 0, len(res.Rejected))
	for name := range res.Rejected {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %s: %v\n", name, res.Rejected[name])
	}
	return fmt.Errorf("%d account(s) rejected", len(res.Rejected))
}
