package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/forgo/somi/api/internal/config"
	"github.com/forgo/somi/api/internal/database"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the SurrealDB schema migrations in order",
		Long: `Migrate applies every .surql file in the migrations directory, sorted by
name, to the database named by DB_NAMESPACE and DB_DATABASE. The schema
statements are idempotent, so rerunning is safe.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dir, _ := cmd.Flags().GetString("dir")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			files, err := migrationFiles(dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dryRun {
				for _, f := range files {
					fmt.Fprintln(out, f)
				}
				return nil
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db := database.NewSurrealDB(database.Config{
				Host:      cfg.Database.Host,
				Port:      cfg.Database.Port,
				User:      cfg.Database.User,
				Password:  cfg.Database.Password,
				Namespace: cfg.Database.Namespace,
				Database:  cfg.Database.Database,
			})
			if err := db.Connect(ctx); err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			for _, f := range files {
				content, err := os.ReadFile(f)
				if err != nil {
					return fmt.Errorf("reading %s: %w", f, err)
				}
				if err := db.Execute(ctx, string(content), nil); err != nil {
					return fmt.Errorf("applying %s: %w", filepath.Base(f), err)
				}
				fmt.Fprintf(out, "applied %s\n", filepath.Base(f))
			}
			return nil
		},
	}
	cmd.Flags().String("dir", "migrations", "directory holding .surql files")
	cmd.Flags().Bool("dry-run", false, "list the files without applying them")
	return cmd
}

// migrationFiles lists .surql files in name order, skipping seed data
func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".surql") || name == "seed.surql" {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}
