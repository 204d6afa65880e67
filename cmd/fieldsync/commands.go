package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ispkit/fieldsync/internal/config"
)

// orderJSON mirrors the daemon's work order representation for display.
type orderJSON struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	CustomerName  string `json:"customer_name"`
	Address       string `json:"address"`
	Status        string `json:"status"`
	Priority      string `json:"priority"`
	ScheduledDate string `json:"scheduled_date"`
	Progress      int    `json:"progress"`
	SyncStatus    string `json:"sync_status"`
}

// --- orders ---

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "Manage work orders",
}

var ordersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List work orders",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		query, _ := cmd.Flags().GetString("search")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/work-orders"
		switch {
		case query != "":
			path += "?q=" + query
		case status != "":
			path += "?status=" + status
		}

		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var orders []orderJSON
		if err := decodeJSON(resp, &orders); err != nil {
			return err
		}

		if len(orders) == 0 {
			fmt.Println("No work orders found.")
			return nil
		}

		for _, o := range orders {
			marker := " "
			if o.SyncStatus == "pending" {
				marker = colorize(colorYellow, "*")
			}
			fmt.Printf("%s %s  %-12s %-8s %s\n",
				marker,
				colorize(colorCyan, o.ID[:8]),
				o.Status,
				o.Priority,
				o.Title,
			)
		}
		return nil
	},
}

var ordersCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a work order",
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		description, _ := cmd.Flags().GetString("description")
		customer, _ := cmd.Flags().GetString("customer")
		address, _ := cmd.Flags().GetString("address")
		priority, _ := cmd.Flags().GetString("priority")
		scheduled, _ := cmd.Flags().GetString("scheduled")

		if title == "" {
			return fmt.Errorf("--title is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"title":         title,
			"description":   description,
			"customer_name": customer,
			"address":       address,
			"priority":      priority,
		}
		if scheduled != "" {
			req["scheduled_date"] = scheduled
		}

		resp, err := client.post(cmd.Context(), "/work-orders", req)
		if err != nil {
			return err
		}

		var created orderJSON
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}

		printSuccess("Created work order %s", created.ID)
		return nil
	},
}

var ordersShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a work order as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/work-orders/"+args[0])
		if err != nil {
			return err
		}

		var order any
		if err := decodeJSON(resp, &order); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(order)
	},
}

var ordersStatusCmd = &cobra.Command{
	Use:   "set-status <id> <status>",
	Short: "Change a work order's status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]string{"status": args[1]}
		resp, err := client.post(cmd.Context(), "/work-orders/"+args[0]+"/status", body)
		if err != nil {
			return err
		}

		var updated orderJSON
		if err := decodeJSON(resp, &updated); err != nil {
			return err
		}

		printSuccess("Work order %s is now %s", updated.ID, updated.Status)
		return nil
	},
}

var ordersCompleteCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Mark a work order completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/work-orders/"+args[0]+"/complete", nil)
		if err != nil {
			return err
		}

		var completed orderJSON
		if err := decodeJSON(resp, &completed); err != nil {
			return err
		}

		printSuccess("Completed work order %s", completed.ID)
		return nil
	},
}

var ordersDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a work order locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/work-orders/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted work order %s", args[0])
		return nil
	},
}

func init() {
	ordersListCmd.Flags().String("status", "", "filter by status")
	ordersListCmd.Flags().String("search", "", "search titles, customers, and addresses")
	ordersCreateCmd.Flags().String("title", "", "work order title")
	ordersCreateCmd.Flags().String("description", "", "description")
	ordersCreateCmd.Flags().String("customer", "", "customer name")
	ordersCreateCmd.Flags().String("address", "", "service address")
	ordersCreateCmd.Flags().String("priority", "", "priority (low, medium, high, urgent)")
	ordersCreateCmd.Flags().String("scheduled", "", "scheduled date (RFC 3339)")

	ordersCmd.AddCommand(ordersListCmd)
	ordersCmd.AddCommand(ordersCreateCmd)
	ordersCmd.AddCommand(ordersShowCmd)
	ordersCmd.AddCommand(ordersStatusCmd)
	ordersCmd.AddCommand(ordersCompleteCmd)
	ordersCmd.AddCommand(ordersDeleteCmd)
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Trigger a sync cycle with the platform API",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Syncing with server...")
		resp, err := client.post(cmd.Context(), "/sync", nil)
		if err != nil {
			return err
		}

		var status struct {
			State        string `json:"state"`
			PendingCount int    `json:"pending_count"`
		}
		if err := decodeJSON(resp, &status); err != nil {
			return err
		}

		if status.PendingCount > 0 {
			printWarning("Sync finished with %d mutation(s) still queued", status.PendingCount)
			return nil
		}
		printSuccess("Sync complete")
		return nil
	},
}

// --- queue ---

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the pending mutation queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/sync/status")
		if err != nil {
			return err
		}

		var status struct {
			State        string `json:"state"`
			LastError    string `json:"last_error"`
			PendingCount int    `json:"pending_count"`
		}
		if err := decodeJSON(resp, &status); err != nil {
			return err
		}

		printStatus("State", "%s", status.State)
		printStatus("Pending", "%d", status.PendingCount)
		if status.LastError != "" {
			printStatus("Last error", "%s", status.LastError)
		}
		return nil
	},
}

// --- metrics ---

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show work order metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/metrics")
		if err != nil {
			return err
		}

		var metrics struct {
			Total      int            `json:"total"`
			Completed  int            `json:"completed"`
			Pending    int            `json:"pending"`
			Overdue    int            `json:"overdue"`
			ByStatus   map[string]int `json:"by_status"`
			ByPriority map[string]int `json:"by_priority"`
		}
		if err := decodeJSON(resp, &metrics); err != nil {
			return err
		}

		printStatus("Total", "%d", metrics.Total)
		printStatus("Completed", "%d", metrics.Completed)
		printStatus("Pending", "%d", metrics.Pending)
		printStatus("Overdue", "%d", metrics.Overdue)
		for status, n := range metrics.ByStatus {
			printStatus("  "+status, "%d", n)
		}
		return nil
	},
}

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the local cache",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all cached data for this tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL local data for this tenant. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/cache/purge", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Cache purged")
		return nil
	},
}

func init() {
	cachePurgeCmd.Flags().Bool("confirm", false, "confirm cache purge")
	cacheCmd.AddCommand(cachePurgeCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
