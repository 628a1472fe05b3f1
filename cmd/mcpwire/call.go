package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	mcpwire "github.com/tildeworks/go-mcpwire"
)

var callArgs string

var callCmd = &cobra.Command{
	Use:   "call <tool>",
	Short: "Invoke a tool on a running SSE server",
	Long: `Call invokes a tool by name, passing --args as the JSON arguments
object. Tool output is printed to stdout; tool-level failures exit non-zero.`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)
	callCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080/sse",
		"SSE connect URL of the server")
	callCmd.Flags().StringVar(&callArgs, "args", "{}",
		"Tool arguments as a JSON object")
}

func runCall(cmd *cobra.Command, args []string) error {
	if !json.Valid([]byte(callArgs)) {
		return fmt.Errorf("--args is not valid JSON: %s", callArgs)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
	defer cancel()

	client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := client.CallTool(ctx, mcpwire.CallToolParams{
		Name:      args[0],
		Arguments: json.RawMessage(callArgs),
	})
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", args[0], err)
	}

	for _, content := range result.Content {
		switch content.Type {
		case mcpwire.ContentTypeText:
			fmt.Println(content.Text)
		default:
			fmt.Printf("[%s content]\n", content.Type)
		}
	}

	if result.IsError {
		color.New(color.FgRed).Fprintln(cmd.ErrOrStderr(), "tool reported an error")
		return fmt.Errorf("tool %s failed", args[0])
	}

	return nil
}
