package main

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/pixelchat/internal/config"
	"github.com/stupiduntilnot/pixelchat/internal/db"
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Inspect and adjust the credit ledger",
}

var creditsBalanceCmd = &cobra.Command{
	Use:   "balance <user-id>",
	Short: "Show a user's balance and recent ledger entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreditsBalance,
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant <user-id> <amount>",
	Short: "Grant credits to a user",
	Args:  cobra.ExactArgs(2),
	RunE:  runCreditsGrant,
}

var grantReason string

func init() {
	creditsGrantCmd.Flags().StringVar(&grantReason, "reason", "grant", "ledger entry reason")
	creditsCmd.AddCommand(creditsBalanceCmd, creditsGrantCmd)
	rootCmd.AddCommand(creditsCmd)
}

func runCreditsBalance(cmd *cobra.Command, args []string) error {
	database, err := openConfiguredDB()
	if err != nil {
		return err
	}
	defer database.Close()

	userID := args[0]
	balance, err := db.Balance(database, userID)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d credits\n", userID, balance)

	entries, err := db.ListCreditEntries(database, userID, 20)
	if err != nil {
		return err
	}
	for _, e := range entries {
		ts := time.Unix(e.CreatedAt, 0).UTC().Format("2006-01-02 15:04:05")
		fmt.Printf("  %s  %+d  %s\n", ts, e.Delta, e.Reason)
	}
	return nil
}

func runCreditsGrant(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount <= 0 {
		return fmt.Errorf("amount must be a positive integer, got %q", args[1])
	}

	database, err := openConfiguredDB()
	if err != nil {
		return err
	}
	defer database.Close()

	userID := args[0]
	if err := db.Credit(database, userID, amount, grantReason); err != nil {
		return err
	}
	if _, err := db.LogEvent(database, nil, db.EventCreditsGranted, map[string]any{
		"user":   userID,
		"amount": amount,
		"reason": grantReason,
	}); err != nil {
		return err
	}

	balance, err := db.Balance(database, userID)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d credits\n", userID, balance)
	return nil
}

func openConfiguredDB() (*sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return db.OpenDB(cfg.DBPath)
}
