package cli

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/flow-guardian/pkg/alerts"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage low-balance alert markers",
}

var alertsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear low-balance markers so the alert can fire again",
	RunE:  runAlertsReset,
}

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Manage usage-jump baselines",
}

var baselineResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop jump baselines; the next scan re-anchors them",
	RunE:  runBaselineReset,
}

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Notification channel tools",
}

var notifyTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a test message through a user's enabled channels",
	RunE:  runNotifyTest,
}

func init() {
	rootCmd.AddCommand(alertsCmd, baselineCmd, notifyCmd)
	alertsCmd.AddCommand(alertsResetCmd)
	baselineCmd.AddCommand(baselineResetCmd)
	notifyCmd.AddCommand(notifyTestCmd)

	for _, c := range []*cobra.Command{alertsResetCmd, baselineResetCmd} {
		c.Flags().Int64P("account", "a", 0, "Account ID")
		_ = c.MarkFlagRequired("account")
	}

	notifyTestCmd.Flags().Int64P("user", "u", 0, "User ID")
	notifyTestCmd.Flags().StringP("channel", "c", "", "Only test this channel")
	_ = notifyTestCmd.MarkFlagRequired("user")
}

func runAlertsReset(cmd *cobra.Command, _ []string) error {
	return resetMarkers(cmd, "low-balance markers", func(a *app, userID, accountID int64) (int, error) {
		return a.evaluator.ResetLowBalance(cmd.Context(), userID, accountID)
	})
}

func runBaselineReset(cmd *cobra.Command, _ []string) error {
	return resetMarkers(cmd, "baselines", func(a *app, userID, accountID int64) (int, error) {
		return a.evaluator.ResetBaselines(cmd.Context(), userID, accountID)
	})
}

func resetMarkers(cmd *cobra.Command, what string, reset func(a *app, userID, accountID int64) (int, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	accountID, _ := cmd.Flags().GetInt64("account")

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	acct, err := a.store.GetAccount(cmd.Context(), accountID)
	if err != nil {
		return fmt.Errorf("get account %d: %w", accountID, err)
	}

	n, err := reset(a, acct.UserID, acct.ID)
	if err != nil {
		return fmt.Errorf("reset %s: %w", what, err)
	}
	fmt.Printf("Cleared %d %s for account %s\n", n, what, acct.Label())
	return nil
}

func runNotifyTest(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	userID, _ := cmd.Flags().GetInt64("user")
	only, _ := cmd.Flags().GetString("channel")

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	settings, err := a.store.GetSettings(cmd.Context(), userID)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	msg := alerts.Message{
		Kind:      alerts.KindTest,
		Title:     "测试通知",
		Body:      "这是一条来自 Flow Guardian 的测试消息\n时间：" + time.Now().Format("2006-01-02 15:04:05"),
		UserID:    userID,
		Timestamp: time.Now(),
	}

	var results map[string]alerts.Result
	if only != "" {
		results = map[string]alerts.Result{
			only: a.dispatcher.Send(cmd.Context(), only, settings.Channel(only), msg),
		}
	} else {
		results = a.dispatcher.Dispatch(cmd.Context(), settings.Notifications, msg)
	}

	if len(results) == 0 {
		fmt.Println("No notification channels enabled. Use 'fg settings set' to configure one.")
		return nil
	}

	names := lo.Keys(results)
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "CHANNEL\tRESULT\tDETAIL\n")
	failed := 0
	for _, name := range names {
		r := results[name]
		status := "ok"
		if !r.Success {
			status = "failed"
			failed++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, status, r.Detail)
	}
	w.Flush()

	if failed > 0 {
		return fmt.Errorf("%d of %d channels failed", failed, len(results))
	}
	return nil
}
