package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shiftsmith/shiftsmith/internal/shiftctl/client"
	"github.com/shiftsmith/shiftsmith/internal/shiftctl/output"
	"github.com/shiftsmith/shiftsmith/models"
)

var shiftCmd = &cobra.Command{
	Use:   "shift",
	Short: "Manage traffic shifts",
}

var shiftStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a traffic shift between two environments",
	Long: `Start a traffic shift described by a request file.

The request file is YAML with the same shape as the API request body:

  strategy: gradual
  old_env:
    name: blue
    listener_arn: arn:aws:elasticloadbalancing:...
    target_group_arn: arn:aws:elasticloadbalancing:...
  new_env:
    name: green
    listener_arn: arn:aws:elasticloadbalancing:...
    target_group_arn: arn:aws:elasticloadbalancing:...
    health_check_url: https://green.example.com/health

Example:
  shiftctl shift start -f shift.yaml
  shiftctl shift start -f shift.yaml --strategy canary --canary-percent 5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		file, _ := cmd.Flags().GetString("file")
		strategy, _ := cmd.Flags().GetString("strategy")
		canaryPercent, _ := cmd.Flags().GetInt("canary-percent")
		skipConfirm, _ := cmd.Flags().GetBool("confirm")

		if file == "" {
			return fmt.Errorf("--file is required")
		}

		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read request file: %w", err)
		}

		var req models.StartShiftRequest
		if err := yaml.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("failed to parse request file: %w", err)
		}

		if strategy != "" {
			req.Strategy = models.ShiftStrategy(strategy)
		}
		if canaryPercent > 0 {
			req.CanaryPercent = canaryPercent
		}
		if req.NewEnv == nil {
			return fmt.Errorf("request file must declare new_env")
		}

		if !skipConfirm {
			oldName := "(none, first deployment)"
			if req.OldEnv != nil {
				oldName = req.OldEnv.Name
			}
			fmt.Println("You are about to start a traffic shift:")
			fmt.Println()
			fmt.Printf("  Strategy: %s\n", req.Strategy)
			fmt.Printf("  From:     %s\n", oldName)
			fmt.Printf("  To:       %s\n", req.NewEnv.Name)
			if req.Strategy == models.StrategyCanary {
				fmt.Printf("  Canary:   %d%%\n", req.CanaryPercent)
			}
			fmt.Println()
			fmt.Print("Continue? (y/n): ")

			reader := bufio.NewReader(os.Stdin)
			response, _ := reader.ReadString('\n')
			response = strings.TrimSpace(strings.ToLower(response))

			if response != "y" && response != "yes" {
				output.Info("Shift cancelled")
				os.Exit(2)
			}
		}

		c := client.NewClient(GetShiftdURL(), GetShiftdAPIKey())

		resp, err := c.StartShift(req)
		if err != nil {
			return err
		}

		output.Success("Shift started")
		fmt.Printf("  Shift ID: %s\n", resp.ShiftID)
		fmt.Printf("  Strategy: %s\n", resp.Strategy)
		fmt.Printf("  State:    %s\n", resp.State)

		return nil
	},
}

var shiftStatusCmd = &cobra.Command{
	Use:   "status [shift-id]",
	Short: "Show the status of a shift",
	Long: `Show the status of a shift, optionally waiting for it to finish.

Example:
  shiftctl shift status 42540c4e-3f1a-4b2e-9f2c-7d8e9a0b1c2d
  shiftctl shift status 42540c4e-3f1a-4b2e-9f2c-7d8e9a0b1c2d --wait`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		shiftID := args[0]
		wait, _ := cmd.Flags().GetBool("wait")
		interval, _ := cmd.Flags().GetDuration("interval")

		c := client.NewClient(GetShiftdURL(), GetShiftdAPIKey())

		if wait {
			return waitForShift(c, shiftID, interval)
		}

		status, err := c.GetShift(shiftID)
		if err != nil {
			return err
		}
		return output.Print(output.Format(GetOutputFormat()), status, func() {
			printShiftStatus(status)
		})
	},
}

const defaultPollInterval = 10 * time.Second

// waitForShift polls until the shift leaves the running state, then prints
// its final status.
func waitForShift(c *client.Client, shiftID string, interval time.Duration) error {
	status, err := c.GetShift(shiftID)
	if err != nil {
		return err
	}

	for status.State == models.ShiftRunning {
		fmt.Printf("Shift %s still running...\n", shiftID)
		time.Sleep(interval)
		status, err = c.GetShift(shiftID)
		if err != nil {
			return err
		}
	}

	return output.Print(output.Format(GetOutputFormat()), status, func() {
		printShiftStatus(status)
	})
}

var shiftHistoryCmd = &cobra.Command{
	Use:   "history [environment]",
	Short: "List past shifts into an environment",
	Long: `List the persisted shift history for an environment, newest first.

Example:
  shiftctl shift history green
  shiftctl shift history green --limit 50`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		env := args[0]
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		c := client.NewClient(GetShiftdURL(), GetShiftdAPIKey())

		list, err := c.ListShifts(env, limit, offset)
		if err != nil {
			return err
		}

		return output.Print(output.Format(GetOutputFormat()), list, func() {
			rows := make([][]string, 0, len(list.Shifts))
			for _, shift := range list.Shifts {
				rows = append(rows, []string{
					shift.ShiftID,
					string(shift.Strategy),
					fmt.Sprintf("%t", shift.Success),
					string(shift.FinalDistribution),
					shift.Duration.Round(time.Second).String(),
					shift.StartedAt.Format(time.RFC3339),
				})
			}
			output.PrintTable([]string{"SHIFT ID", "STRATEGY", "SUCCESS", "DISTRIBUTION", "DURATION", "STARTED"}, rows)
			fmt.Printf("\nShowing %d of %d shifts\n", len(list.Shifts), list.Total)
		})
	},
}

var shiftRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Send all traffic back to the old environment",
	Long: `Send all traffic back to the old environment immediately, without
starting a shift. The request file declares both environments, the same
shape as for shift start.

Example:
  shiftctl shift rollback -f shift.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		file, _ := cmd.Flags().GetString("file")
		skipConfirm, _ := cmd.Flags().GetBool("confirm")

		if file == "" {
			return fmt.Errorf("--file is required")
		}

		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read request file: %w", err)
		}

		var req models.RollbackRequest
		if err := yaml.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("failed to parse request file: %w", err)
		}
		if req.OldEnv == nil || req.NewEnv == nil {
			return fmt.Errorf("request file must declare old_env and new_env")
		}

		if !skipConfirm {
			fmt.Println("You are about to roll back traffic:")
			fmt.Println()
			fmt.Printf("  All traffic to: %s\n", req.OldEnv.Name)
			fmt.Printf("  None to:        %s\n", req.NewEnv.Name)
			fmt.Println()
			fmt.Print("Continue? (y/n): ")

			reader := bufio.NewReader(os.Stdin)
			response, _ := reader.ReadString('\n')
			response = strings.TrimSpace(strings.ToLower(response))

			if response != "y" && response != "yes" {
				output.Info("Rollback cancelled")
				os.Exit(2)
			}
		}

		c := client.NewClient(GetShiftdURL(), GetShiftdAPIKey())

		if err := c.Rollback(req); err != nil {
			return err
		}

		output.Success(fmt.Sprintf("All traffic rolled back to %s", req.OldEnv.Name))
		return nil
	},
}

var shiftCancelCmd = &cobra.Command{
	Use:   "cancel [shift-id]",
	Short: "Cancel a running shift",
	Long: `Cancel a running shift. The daemon rolls traffic back to the old
environment before marking the shift cancelled.

Example:
  shiftctl shift cancel 42540c4e-3f1a-4b2e-9f2c-7d8e9a0b1c2d`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		shiftID := args[0]

		c := client.NewClient(GetShiftdURL(), GetShiftdAPIKey())

		if err := c.CancelShift(shiftID); err != nil {
			return err
		}

		output.Success(fmt.Sprintf("Shift %s cancelled", shiftID))
		return nil
	},
}

func printShiftStatus(status *models.ShiftStatus) {
	rows := [][]string{{
		status.ShiftID,
		string(status.Strategy),
		string(status.State),
		status.OldEnv,
		status.NewEnv,
		status.StartedAt.Format(time.RFC3339),
	}}
	output.PrintTable([]string{"SHIFT ID", "STRATEGY", "STATE", "OLD", "NEW", "STARTED"}, rows)

	if status.Result == nil {
		return
	}

	r := status.Result
	fmt.Println()
	fmt.Printf("  Success:      %t\n", r.Success)
	fmt.Printf("  Distribution: %s\n", r.FinalDistribution)
	fmt.Printf("  Duration:     %s\n", r.Duration.Round(time.Second))
	fmt.Printf("  Rolled back:  %t\n", r.RollbackPerformed)
	if r.ErrorMessage != "" {
		fmt.Printf("  Error:        %s\n", r.ErrorMessage)
	}
	if len(r.MetricsHistory) > 0 {
		last := r.MetricsHistory[len(r.MetricsHistory)-1]
		fmt.Printf("  Last sample:  old %d%% / new %d%%, new error rate %.2f%%, new latency %.0fms\n",
			last.BlueWeight, last.GreenWeight, last.GreenErrorRate*100, last.GreenLatencyMs)
	}
}

func init() {
	rootCmd.AddCommand(shiftCmd)
	shiftCmd.AddCommand(shiftStartCmd)
	shiftCmd.AddCommand(shiftStatusCmd)
	shiftCmd.AddCommand(shiftHistoryCmd)
	shiftCmd.AddCommand(shiftRollbackCmd)
	shiftCmd.AddCommand(shiftCancelCmd)

	shiftStartCmd.Flags().StringP("file", "f", "", "Shift request file (required)")
	shiftStartCmd.Flags().String("strategy", "", "Override the strategy from the request file")
	shiftStartCmd.Flags().Int("canary-percent", 0, "Override the canary percentage")
	shiftStartCmd.Flags().Bool("confirm", false, "Skip confirmation prompt")

	shiftRollbackCmd.Flags().StringP("file", "f", "", "Request file declaring both environments (required)")
	shiftRollbackCmd.Flags().Bool("confirm", false, "Skip confirmation prompt")

	shiftStatusCmd.Flags().Bool("wait", false, "Poll until the shift finishes")
	shiftStatusCmd.Flags().Duration("interval", defaultPollInterval, "Polling interval with --wait")

	shiftHistoryCmd.Flags().Int("limit", 20, "Maximum number of shifts to return")
	shiftHistoryCmd.Flags().Int("offset", 0, "Number of shifts to skip")
}
