package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shiftsmith/shiftsmith/internal/shiftctl/client"
	"github.com/shiftsmith/shiftsmith/internal/shiftctl/output"
	"github.com/shiftsmith/shiftsmith/orchestrator"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Run the full deployment pipeline",
	Long: `Run the full deployment pipeline: artifact preflight, dependency
resolution, configuration injection, and the traffic shift.

The request file is YAML with the same shape as the API request body:

  deployment_id: webshop-v42
  strategy: gradual
  components:
    - name: api
      type: API
      dependencies:
        - name: orders-db
          type: DATABASE
          required: true
          connection_string: postgres://orders:5432/orders
  artifacts:
    - component: api
      repository: registry.example.com/webshop/api
      tag: v42
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
  shiftctl deploy -f deployment.yaml
  shiftctl deploy -f deployment.yaml --wait`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		file, _ := cmd.Flags().GetString("file")
		skipConfirm, _ := cmd.Flags().GetBool("confirm")
		wait, _ := cmd.Flags().GetBool("wait")
		interval, _ := cmd.Flags().GetDuration("interval")

		if file == "" {
			return fmt.Errorf("--file is required")
		}

		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read request file: %w", err)
		}

		var req orchestrator.DeployRequest
		if err := yaml.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("failed to parse request file: %w", err)
		}
		if req.DeploymentID == "" || req.NewEnv == nil {
			return fmt.Errorf("request file must declare deployment_id and new_env")
		}

		if !skipConfirm {
			fmt.Printf("You are about to deploy %s:\n", req.DeploymentID)
			fmt.Println()
			fmt.Printf("  Strategy:   %s\n", req.Strategy)
			fmt.Printf("  Components: %d\n", len(req.Components))
			fmt.Printf("  Target:     %s\n", req.NewEnv.Name)
			fmt.Println()
			fmt.Print("Continue? (y/n): ")

			reader := bufio.NewReader(os.Stdin)
			response, _ := reader.ReadString('\n')
			response = strings.TrimSpace(strings.ToLower(response))

			if response != "y" && response != "yes" {
				output.Info("Deployment cancelled")
				os.Exit(2)
			}
		}

		c := client.NewClient(GetShiftdURL(), GetShiftdAPIKey())

		resp, err := c.Deploy(req)
		if err != nil {
			return err
		}

		output.Success(fmt.Sprintf("Deployment %s started", resp.DeploymentID))
		fmt.Printf("  Shift ID: %s\n", resp.ShiftID)

		if !wait {
			return nil
		}
		return waitForShift(c, resp.ShiftID, interval)
	},
}

func init() {
	rootCmd.AddCommand(deployCmd)

	deployCmd.Flags().StringP("file", "f", "", "Deployment request file (required)")
	deployCmd.Flags().Bool("confirm", false, "Skip confirmation prompt")
	deployCmd.Flags().Bool("wait", false, "Poll until the shift finishes")
	deployCmd.Flags().Duration("interval", defaultPollInterval, "Polling interval with --wait")
}
