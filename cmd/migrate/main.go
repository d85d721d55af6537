package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samirrijal/etxea/internal/pkg/config"
	"github.com/samirrijal/etxea/internal/pkg/logging"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: migrate <up|down>")
		os.Exit(2)
	}

	cfg, err := config.Load("etxea-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		slog.Error("db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	switch os.Args[1] {
	case "up":
		err = apply(ctx, pool, upFiles)
	case "down":
		err = apply(ctx, pool, downFiles)
	default:
		err = fmt.Errorf("unknown command: %s", os.Args[1])
	}
	if err != nil {
		slog.Error("migrate failed", "error", err)
		pool.Close()
		os.Exit(1)
	}
	slog.Info("all migrations applied", "direction", os.Args[1])
}

// upFiles returns forward migrations in name order.
func upFiles(dir string) ([]string, error) {
	all, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	files := slices.DeleteFunc(all, func(f string) bool { return strings.HasSuffix(f, ".down.sql") })
	slices.Sort(files)
	return files, nil
}

// downFiles returns rollback migrations in reverse name order.
func downFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.down.sql"))
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	slices.Reverse(files)
	return files, nil
}

func apply(ctx context.Context, pool *pgxpool.Pool, list func(string) ([]string, error)) error {
	files, err := list("migrations")
	if err != nil {
		return err
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec %s: %w", f, err)
		}
		slog.Info("applied", "file", f)
	}
	return nil
}
