// workflowctl is a small admin CLI for the workflow service REST API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiToken  string
)

var rootCmd = &cobra.Command{
	Use:   "workflowctl",
	Short: "Administer the workflow service from the command line",
	Long: `workflowctl talks to the workflow service REST API.

Set --server to the service base URL and --token to a valid access token
(not needed when the service runs with auth bypass in DEV mode).`,
	SilenceUsage: true,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflow definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return apiCall(cmd, http.MethodGet, "/api/v1/workflows", nil)
	},
}

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "List the pending approvals assigned to the calling user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return apiCall(cmd, http.MethodGet, "/api/v1/workflows/my-approvals", nil)
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <instance-step-id>",
	Short: "Approve a pending instance step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := decisionBody(cmd)
		return apiCall(cmd, http.MethodPost,
			"/api/v1/workflows/instances/steps/"+args[0]+"/approve", body)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <instance-step-id>",
	Short: "Reject a pending instance step; this rejects the whole instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := decisionBody(cmd)
		return apiCall(cmd, http.MethodPost,
			"/api/v1/workflows/instances/steps/"+args[0]+"/reject", body)
	},
}

var testRunCmd = &cobra.Command{
	Use:   "test-run <workflow-id> <entity-type> <entity-id>",
	Short: "Replay a workflow against an entity",
	Long: `Replay a workflow against an entity.

This is destructive: any prior instances of the workflow for the same
entity are removed before the fresh run starts.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{
			"entityType": args[1],
			"entityId":   args[2],
		}
		return apiCall(cmd, http.MethodPost,
			"/api/v1/workflows/"+args[0]+"/test-run", body)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Base URL of the workflow service")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "Bearer token for the API")

	for _, c := range []*cobra.Command{approveCmd, rejectCmd} {
		c.Flags().String("user", "", "Acting user id (falls back to the token identity)")
		c.Flags().String("comment", "", "Optional decision comment")
	}

	rootCmd.AddCommand(listCmd, approvalsCmd, approveCmd, rejectCmd, testRunCmd)
}

func decisionBody(cmd *cobra.Command) map[string]string {
	body := map[string]string{}
	if user, _ := cmd.Flags().GetString("user"); user != "" {
		body["userId"] = user
	}
	if comment, _ := cmd.Flags().GetString("comment"); comment != "" {
		body["comment"] = comment
	}
	return body
}

// apiCall performs the request and pretty-prints the JSON response.
func apiCall(cmd *cobra.Command, method, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(cmd.Context(), method, serverURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s: %s", resp.Status, bytes.TrimSpace(data))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		// not JSON, print as-is
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
