package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shiftsmith/shiftsmith/internal/shiftctl/client"
	"github.com/shiftsmith/shiftsmith/internal/shiftctl/output"
	"github.com/shiftsmith/shiftsmith/models"
)

var deploymentCmd = &cobra.Command{
	Use:     "deployment",
	Aliases: []string{"dep"},
	Short:   "Manage deployment dependency graphs",
}

var deploymentResolveCmd = &cobra.Command{
	Use:   "resolve [deployment-id]",
	Short: "Build and resolve a deployment's dependency graph",
	Long: `Build a dependency graph from a components file and resolve every
dependency in topological order.

The components file is YAML with the same shape as the API request body:

  components:
    - name: orders-db
      type: DATABASE
      dependencies:
        - name: orders-db
          type: DATABASE
          required: true
          connection_string: postgres://orders:5432/orders
    - name: orders-api
      type: API
      depends_on: [orders-db]
      dependencies:
        - name: orders-db
          type: DATABASE
          required: true

Example:
  shiftctl deployment resolve my-deployment -f components.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		deploymentID := args[0]
		file, _ := cmd.Flags().GetString("file")

		if file == "" {
			return fmt.Errorf("--file is required")
		}

		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read components file: %w", err)
		}

		var req models.ResolveRequest
		if err := yaml.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("failed to parse components file: %w", err)
		}

		c := client.NewClient(GetShiftdURL(), GetShiftdAPIKey())

		resp, err := c.Resolve(deploymentID, req)
		if err != nil {
			return err
		}

		output.Success(fmt.Sprintf("Resolved %d dependencies for %s", resp.Resolved, resp.DeploymentID))
		fmt.Printf("  Status: %s\n", resp.Status)

		return nil
	},
}

var deploymentInjectCmd = &cobra.Command{
	Use:   "inject [deployment-id] [component]",
	Short: "Emit resolved configuration for one component",
	Long: `Re-emit the resolved configuration for a component into the
configuration store and print the emitted key/value pairs.

Example:
  shiftctl deployment inject my-deployment orders-api`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		deploymentID := args[0]
		component := args[1]

		c := client.NewClient(GetShiftdURL(), GetShiftdAPIKey())

		resp, err := c.Inject(deploymentID, component)
		if err != nil {
			return err
		}

		return output.Print(output.Format(GetOutputFormat()), resp, func() {
			rows := make([][]string, 0, len(resp.Config))
			for key, value := range resp.Config {
				rows = append(rows, []string{key, value})
			}
			output.PrintTable([]string{"KEY", "VALUE"}, rows)
		})
	},
}

var deploymentHealthCmd = &cobra.Command{
	Use:   "health [deployment-id]",
	Short: "Check the health of a deployment's dependencies",
	Long: `Check every resolved dependency of a deployment and report
per-component health.

Example:
  shiftctl deployment health my-deployment`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		deploymentID := args[0]

		c := client.NewClient(GetShiftdURL(), GetShiftdAPIKey())

		report, err := c.DeploymentHealth(deploymentID)
		if err != nil {
			return err
		}

		err = output.Print(output.Format(GetOutputFormat()), report, func() {
			rows := make([][]string, 0)
			for _, comp := range report.Components {
				for _, dep := range comp.Dependencies {
					errMsg := dep.Error
					if errMsg == "" {
						errMsg = "-"
					}
					rows = append(rows, []string{
						comp.Component,
						dep.Name,
						strconv.FormatBool(dep.Healthy),
						strconv.FormatBool(dep.Required),
						errMsg,
					})
				}
			}
			output.PrintTable([]string{"COMPONENT", "DEPENDENCY", "HEALTHY", "REQUIRED", "ERROR"}, rows)
			fmt.Println()
			if report.Healthy {
				output.Success(fmt.Sprintf("Deployment %s is healthy (checked %s)",
					report.DeploymentID, report.CheckedAt.Format(time.RFC3339)))
			} else {
				output.Error(fmt.Sprintf("Deployment %s is unhealthy", report.DeploymentID))
			}
		})
		if err != nil {
			return err
		}

		if !report.Healthy {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deploymentCmd)
	deploymentCmd.AddCommand(deploymentResolveCmd)
	deploymentCmd.AddCommand(deploymentInjectCmd)
	deploymentCmd.AddCommand(deploymentHealthCmd)

	deploymentResolveCmd.Flags().StringP("file", "f", "", "Components file (required)")
}
