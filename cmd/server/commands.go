package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/monark/workshop/api"
	"github.com/monark/workshop/catalog"
	"github.com/monark/workshop/config"
	"github.com/monark/workshop/ledger"
	"github.com/monark/workshop/logging"
	"github.com/monark/workshop/receipt"
	"github.com/monark/workshop/store/sqlite"
)

// =============================================================================
// SERVE
// =============================================================================

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	parts := loadCatalog(cfg.Catalog.Path, logger)

	engine := ledger.NewEngine(store, logger)
	handler := api.NewHandler(engine, parts, receipt.Business{Name: cfg.Business.Name, Phone: cfg.Business.Phone}, logger)
	handler.Pinger = store
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "db", cfg.Database.Path, "parts", parts.Len())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSeconds)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// loadConfig applies the global flags on top of the file and environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadCatalog(path string, logger *slog.Logger) *catalog.Catalog {
	parts, err := catalog.Load(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("parts catalog not found, starting with an empty one", "path", path)
		return catalog.Empty()
	case err != nil:
		logger.Error("failed to load parts catalog", "path", path, "error", err)
		return catalog.Empty()
	}
	return parts
}

// =============================================================================
// PARTS
// =============================================================================

var partsCmd = &cobra.Command{
	Use:   "parts TERM",
	Short: "Search the parts catalog by id, barcode or description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		parts, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return err
		}

		found := parts.Search(args[0])
		if len(found) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No parts found.")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tDESCRIPTION\tPRICE\tBARCODE")
		for _, p := range found {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Description, receipt.FormatMoney(p.Price), p.Barcode)
		}
		return tw.Flush()
	},
}

// =============================================================================
// BALANCE
// =============================================================================

var balanceCmd = &cobra.Command{
	Use:   "balance [OWNER]",
	Short: "Show wallet balances and check them against their movements",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, closeStore, err := openEngine()
		if err != nil {
			return err
		}
		defer closeStore()
		ctx := cmd.Context()

		var owners []ledger.Owner
		if len(args) == 1 {
			owner, err := ledger.ParseOwner(args[0])
			if err != nil {
				return err
			}
			owners = append(owners, owner)
		} else {
			wallets, err := engine.ListWallets(ctx)
			if err != nil {
				return err
			}
			for _, w := range wallets {
				owners = append(owners, w.Owner)
			}
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "OWNER\tBALANCE\tCHECK")
		var mismatch bool
		for _, owner := range owners {
			balance, err := engine.Verify(ctx, owner)
			status := "ok"
			if err != nil {
				if !errors.Is(err, ledger.ErrBalanceMismatch) {
					return err
				}
				status = "MISMATCH"
				mismatch = true
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", owner, receipt.FormatMoney(balance), status)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if mismatch {
			return errors.New("stored balance differs from the sum of movements")
		}
		return nil
	},
}

// =============================================================================
// BACKUP
// =============================================================================

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export or import the whole ledger as JSON",
}

var backupExportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Write mechanics, orders, wallets and movements to FILE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, closeStore, err := openEngine()
		if err != nil {
			return err
		}
		defer closeStore()

		dump, err := engine.Export(cmd.Context())
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(dump, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode backup: %w", err)
		}
		if err := os.WriteFile(args[0], append(data, '\n'), 0o600); err != nil {
			return fmt.Errorf("failed to write backup: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d orders, %d wallets and %d movements to %s\n",
			len(dump.Orders), len(dump.Wallets), len(dump.Movements), args[0])
		return nil
	},
}

var backupImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Replace the whole ledger with the contents of FILE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read backup: %w", err)
		}
		var dump ledger.Dump
		if err := json.Unmarshal(data, &dump); err != nil {
			return fmt.Errorf("failed to decode backup: %w", err)
		}

		engine, closeStore, err := openEngine()
		if err != nil {
			return err
		}
		defer closeStore()

		if err := engine.Import(cmd.Context(), &dump); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d orders, %d wallets and %d movements from %s\n",
			len(dump.Orders), len(dump.Wallets), len(dump.Movements), args[0])
		return nil
	},
}

func init() {
	backupCmd.AddCommand(backupExportCmd, backupImportCmd)
}

// openEngine opens the configured database for a one-shot command.
func openEngine() (*ledger.Engine, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	engine := ledger.NewEngine(store, logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr))
	return engine, func() { store.Close() }, nil
}
