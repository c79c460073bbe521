package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/credix/creditgate/adapters/clock"
	"github.com/credix/creditgate/adapters/sqlite"
	"github.com/credix/creditgate/config"
	"github.com/credix/creditgate/domain/creditplan"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Inspect and manage credit plans",
	Long: `Inspect and manage a service's credit plans directly against
the ledger database.

Examples:
  creditgate plans list --service my-service
  creditgate plans get <plan-id> --service my-service
  creditgate plans activate <plan-id> --service my-service`,
}

var plansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a service's plans",
	RunE:  runPlansList,
}

var plansGetCmd = &cobra.Command{
	Use:   "get <plan-id>",
	Short: "Show plan details",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlansGet,
}

var plansActivateCmd = &cobra.Command{
	Use:   "activate <plan-id>",
	Short: "Make a plan the service's active one",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlansActivate,
}

var plansServiceID string

func init() {
	rootCmd.AddCommand(plansCmd)
	plansCmd.AddCommand(plansListCmd)
	plansCmd.AddCommand(plansGetCmd)
	plansCmd.AddCommand(plansActivateCmd)

	plansCmd.PersistentFlags().StringVar(&plansServiceID, "service", "", "service id (required)")
	plansCmd.MarkPersistentFlagRequired("service")
}

func openPlanStore() (*sqlite.PlanStore, func(), error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return sqlite.NewPlanStore(db), func() { db.Close() }, nil
}

func runPlansList(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openPlanStore()
	if err != nil {
		return err
	}
	defer closeDB()

	plans, err := store.List(context.Background(), plansServiceID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCREDITS\tUSED\tTOKENS\tTOKENS USED\tEXPIRES")
	for _, p := range plans {
		expires := "-"
		if p.ExpiresAt != nil {
			expires = p.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			p.ID, p.Status, p.TotalCredits, p.Used,
			p.Token.Amount, p.Token.Used, expires)
	}
	return w.Flush()
}

func runPlansGet(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openPlanStore()
	if err != nil {
		return err
	}
	defer closeDB()

	p, err := store.Get(context.Background(), plansServiceID, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:            %s\n", p.ID)
	fmt.Printf("Service:       %s\n", p.ServiceID)
	fmt.Printf("Status:        %s\n", p.Status)
	fmt.Printf("Credits:       %d / %d %s\n", p.Used, p.TotalCredits, p.CreditDenom)
	fmt.Printf("Tokens:        %d / %d %s\n", p.Token.Used, p.Token.Amount, p.Token.Denom)
	fmt.Printf("Validity:      %d days\n", p.ValidityDays)
	if p.ExpiresAt != nil {
		fmt.Printf("Expires:       %s\n", p.ExpiresAt.Format(time.RFC3339))
	}
	if len(p.Scope) > 0 {
		fmt.Printf("Scope:         %v\n", p.Scope)
	}
	fmt.Printf("Created:       %s\n", p.CreatedAt.Format(time.RFC3339))
	return nil
}

func runPlansActivate(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openPlanStore()
	if err != nil {
		return err
	}
	defer closeDB()

	ctx := context.Background()
	p, err := store.Get(ctx, plansServiceID, args[0])
	if err != nil {
		return err
	}

	now := clock.Real{}.Now()
	expiry := creditplan.ExpiryFrom(now, p.ValidityDays)
	if err := store.Activate(ctx, plansServiceID, p.ID, expiry); err != nil {
		return err
	}
	fmt.Printf("Plan %s is now active for service %s\n", p.ID, plansServiceID)
	return nil
}
