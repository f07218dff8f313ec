/*
main.go - Application entry point

PURPOSE:
  Starts the workshop server and offers a few counter-side commands.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve             Run the HTTP API (default when no command is given)
  parts TERM        Search the parts catalog
  balance [OWNER]   Show wallet balances ("shop" or a mechanic id)
  backup export FILE  Write the whole ledger to a JSON file
  backup import FILE  Replace the ledger with a JSON backup

STARTUP SEQUENCE (serve):
  1. Load configuration (file, then WORKSHOP_* env, then flags)
  2. Set up logging
  3. Open the SQLite store
  4. Load the parts catalog (an empty catalog if the file is missing)
  5. Configure HTTP router and start the server

GLOBAL FLAGS:
  --config   YAML config file
  --db       SQLite database path (":memory:" for a throwaway database)
  --port     HTTP server port

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_seconds)
  3. Close database connection

EXAMPLES:
  ./server serve --config workshop.yaml
  ./server serve --db ":memory:" --port 3000
  ./server parts camara
  ./server balance shop
  ./server backup export oficina-2025-05-05.json

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration loading
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
	port       int
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Repair-shop service orders and wallets",
	Long: `Runs the workshop API: service orders, the shop and mechanic wallets,
and the settlement that splits each completed order between them.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().IntVar(&port, "port", 0, "HTTP server port (overrides config)")

	rootCmd.AddCommand(serveCmd, partsCmd, balanceCmd, backupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
