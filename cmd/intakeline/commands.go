package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/intakeline/intakeline/internal/config"
)

// --- calls ---

var callsCmd = &cobra.Command{
	Use:   "calls",
	Short: "Inspect recorded intake calls",
}

var callsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent calls",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		firmID, _ := cmd.Flags().GetString("firm")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/calls?limit=%d", limit)
		if firmID != "" {
			path += "&firm_id=" + firmID
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result struct {
			Calls []struct {
				ID        string `json:"id"`
				CreatedAt string `json:"created_at"`
				From      string `json:"from_number"`
				Status    string `json:"status"`
				Urgency   string `json:"urgency"`
			} `json:"calls"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Calls) == 0 {
			fmt.Println("No calls found.")
			return nil
		}

		for _, c := range result.Calls {
			urgency := c.Urgency
			if urgency == "" {
				urgency = "-"
			}
			fmt.Printf("%s  %s  %-16s %-12s %s\n",
				colorize(colorCyan, c.ID[:8]),
				c.CreatedAt,
				c.From,
				c.Status,
				urgency,
			)
		}
		return nil
	},
}

var callsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single call as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/calls/"+args[0])
		if err != nil {
			return err
		}

		var call any
		if err := decodeJSON(resp, &call); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(call)
	},
}

var callsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a call record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete the call record and its transcript. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/calls/"+args[0])
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("Deleted call %s", args[0])
		return nil
	},
}

func init() {
	callsListCmd.Flags().Int("limit", 20, "maximum number of calls to list")
	callsListCmd.Flags().String("firm", "", "filter by firm id")
	callsDeleteCmd.Flags().Bool("confirm", false, "confirm deletion")
	callsCmd.AddCommand(callsListCmd)
	callsCmd.AddCommand(callsShowCmd)
	callsCmd.AddCommand(callsDeleteCmd)
}

// --- firms ---

var firmsCmd = &cobra.Command{
	Use:   "firms",
	Short: "Manage firm profiles",
}

var firmsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured firms",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/firms")
		if err != nil {
			return err
		}

		var result struct {
			Firms []struct {
				ID          string `json:"id"`
				Name        string `json:"name"`
				PhoneNumber string `json:"phone_number"`
			} `json:"firms"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Firms) == 0 {
			fmt.Println("No firms configured.")
			return nil
		}

		for _, f := range result.Firms {
			fmt.Printf("%s  %-16s %s\n", colorize(colorCyan, f.ID), f.PhoneNumber, f.Name)
		}
		return nil
	},
}

var firmsSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Create or update a firm from a JSON file",
	Long: `Create or update a firm from a JSON file.

Example:
  intakeline firms set harper-lowe --file ./harper-lowe.json

The file holds the firm profile:
  {"name": "Harper & Lowe", "phone_number": "+15559876543",
   "forward_number": "+15550001111", "notify_emails": ["intake@harperlowe.example"],
   "timezone": "America/New_York", "business_open": 9, "business_close": 17}`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return fmt.Errorf("--file is required")
		}

		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		var body map[string]any
		if err := json.Unmarshal(data, &body); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.put(cmd.Context(), "/firms/"+args[0], body)
		if err != nil {
			return err
		}

		var firm struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if err := decodeJSON(resp, &firm); err != nil {
			return err
		}

		printSuccess("Saved firm %s (%s)", firm.ID, firm.Name)
		return nil
	},
}

func init() {
	firmsSetCmd.Flags().String("file", "", "path to the firm profile JSON")
	firmsCmd.AddCommand(firmsListCmd)
	firmsCmd.AddCommand(firmsSetCmd)
}

// --- watchdog ---

var watchdogCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "Trigger a watchdog sweep of stuck calls",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/watchdog/run", nil)
		if err != nil {
			return err
		}

		var result struct {
			Retriggered int `json:"retriggered"`
			Failed      int `json:"failed"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Sweep complete: %d retriggered, %d failed", result.Retriggered, result.Failed)
		return nil
	},
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
			if strings.Contains(err.Error(), "unknown config key") {
				return fmt.Errorf("%w\nvalid keys:\n  %s", err, strings.Join(config.ValidKeys(), "\n  "))
			}
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
