package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"wabridge/internal/bridge"
	"wabridge/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your wabridge installation",
		Long: `Verifies that wabridge's configuration, session store, AI API connection,
and REST port are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("wabridge doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'wabridge init' to create a default configuration.\n")
				return fmt.Errorf("1 check(s) failed")
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\nResults: %d passed, 1 failed\n", passed)
				return fmt.Errorf("1 check(s) failed")
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Session store opens and shows pairing state
			paired, err := checkSessionStore(cfg.WhatsApp.DBPath)
			if err != nil {
				printFail("Session store", err.Error())
				failed++
			} else if paired {
				printPass("Session store", cfg.WhatsApp.DBPath+" (paired)")
				passed++
			} else {
				printWarn("Session store", "no linked device yet, run 'wabridge pair'")
				warned++
			}

			// 4. AI API reachable
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			aiClient := bridge.NewClient(bridge.ClientConfig{
				BaseURL: cfg.AI.APIBase,
				Timeout: 5 * time.Second,
				Logger:  logger,
			})
			if err := aiClient.Health(ctx); err != nil {
				printWarn("AI API", fmt.Sprintf("%s unreachable: %v", cfg.AI.APIBase, err))
				warned++
			} else {
				printPass("AI API", cfg.AI.APIBase)
				passed++
			}

			// 5. REST port available
			if cfg.API.Enabled {
				if err := checkPort(cfg.API.Port); err != nil {
					printWarn("REST port", fmt.Sprintf("port %d may be in use: %v", cfg.API.Port, err))
					warned++
				} else {
					printPass("REST port", fmt.Sprintf(":%d available", cfg.API.Port))
					passed++
				}
				if cfg.API.APIKey == "" {
					printWarn("REST auth", "no apiKey set, the send endpoints are unauthenticated")
					warned++
				} else {
					printPass("REST auth", "bearer token configured")
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running wabridge.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nwabridge should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! wabridge is ready to run.\n")
			}
			return nil
		},
	}
}

// checkSessionStore opens the device database and reports whether a device
// is already linked. A fresh store (no whatsmeow tables yet) is not an
// error, just unpaired.
func checkSessionStore(dbPath string) (paired bool, err error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return false, fmt.Errorf("cannot create session directory: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return false, fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return false, fmt.Errorf("cannot ping: %w", err)
	}

	var devices int
	row := db.QueryRowContext(ctx, "SELECT count(*) FROM whatsmeow_device")
	if err := row.Scan(&devices); err != nil {
		return false, nil
	}
	return devices > 0, nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
