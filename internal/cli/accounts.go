package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage monitored accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List monitored accounts",
	RunE:  runAccountsList,
}

var accountsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register an account for monitoring",
	RunE:  runAccountsAdd,
}

var accountsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent flow readings for an account",
	RunE:  runAccountsHistory,
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsListCmd, accountsAddCmd, accountsHistoryCmd)

	accountsListCmd.Flags().Int64P("user", "u", 0, "Only list this user's accounts")

	accountsAddCmd.Flags().Int64P("user", "u", 0, "Owning user ID")
	accountsAddCmd.Flags().StringP("provider", "p", "", "Provider name (default: catalog default)")
	accountsAddCmd.Flags().String("phone", "", "Phone number")
	accountsAddCmd.Flags().String("app-id", "", "Upstream app id")
	accountsAddCmd.Flags().String("token-online", "", "Upstream session token")
	accountsAddCmd.Flags().Bool("disabled", false, "Register without enabling monitoring")
	_ = accountsAddCmd.MarkFlagRequired("user")
	_ = accountsAddCmd.MarkFlagRequired("phone")

	accountsHistoryCmd.Flags().Int64P("account", "a", 0, "Account ID")
	accountsHistoryCmd.Flags().IntP("limit", "n", 10, "Number of readings")
	_ = accountsHistoryCmd.MarkFlagRequired("account")
}

func runAccountsList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	userID, _ := cmd.Flags().GetInt64("user")

	store, err := initStorage(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	users := []int64{userID}
	if userID == 0 {
		users, err = store.ListUserIDs(cmd.Context())
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}
	}

	var accounts []model.MonitoredAccount
	for _, u := range users {
		list, err := store.ListAccounts(cmd.Context(), u, false)
		if err != nil {
			return fmt.Errorf("list accounts for user %d: %w", u, err)
		}
		accounts = append(accounts, list...)
	}

	if len(accounts) == 0 {
		fmt.Println("No accounts registered. Use 'fg accounts add' to register one.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tUSER\tPROVIDER\tPHONE\tMONITOR\tAUTH\tUPDATED\n")
	for _, a := range accounts {
		provider := a.Provider
		if provider == "" {
			provider = "(default)"
		}
		auth := "valid"
		if !a.AuthValid {
			auth = "NEEDS LOGIN"
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%t\t%s\t%s\n",
			a.ID, a.UserID, provider, a.Phone, a.MonitorEnabled, auth,
			a.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runAccountsAdd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	userID, _ := cmd.Flags().GetInt64("user")
	provider, _ := cmd.Flags().GetString("provider")
	phone, _ := cmd.Flags().GetString("phone")
	appID, _ := cmd.Flags().GetString("app-id")
	token, _ := cmd.Flags().GetString("token-online")
	disabled, _ := cmd.Flags().GetBool("disabled")

	store, err := initStorage(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	acct := &model.MonitoredAccount{
		UserID:         userID,
		Provider:       provider,
		Phone:          phone,
		MonitorEnabled: !disabled,
		AuthValid:      true,
		Credentials:    model.Credentials{AppID: appID, TokenOnline: token},
	}
	if err := store.UpsertAccount(cmd.Context(), acct); err != nil {
		return fmt.Errorf("add account: %w", err)
	}

	fmt.Printf("Account registered:\n")
	fmt.Printf("  ID:       %d\n", acct.ID)
	fmt.Printf("  User:     %d\n", acct.UserID)
	fmt.Printf("  Phone:    %s\n", acct.Phone)
	fmt.Printf("  Monitor:  %t\n", acct.MonitorEnabled)
	return nil
}

func runAccountsHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	accountID, _ := cmd.Flags().GetInt64("account")
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := initStorage(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	snaps, err := store.ListSnapshots(cmd.Context(), accountID, limit)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	if len(snaps) == 0 {
		fmt.Println("No readings recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "CAPTURED\tPACKAGE\tUSED\tREMAINING\tTOTAL\tUSAGE\tGENERAL LEFT\tSPECIAL LEFT\n")
	for _, s := range snaps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.1f%%\t%s\t%s\n",
			s.CapturedAt.Local().Format("2006-01-02 15:04:05"),
			s.PackageName,
			mb(s.Used), mb(s.Remaining), mb(s.Total),
			s.UsagePercent,
			mb(s.Category(model.CategoryGeneral).Remaining),
			mb(s.Category(model.CategorySpecial).Remaining),
		)
	}
	return w.Flush()
}

func mb(m model.Measure) string {
	if !m.Valid {
		return "-"
	}
	if m.MB >= 1024 {
		return fmt.Sprintf("%.2fGB", m.MB/1024)
	}
	return fmt.Sprintf("%.0fMB", m.MB)
}
