package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	mcpwire "github.com/tildeworks/go-mcpwire"
)

var serverURL string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools a running SSE server offers",
	RunE:  runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080/sse",
		"SSE connect URL of the server")
}

// connect dials the server and completes the handshake. Callers must Close
// the returned client.
func connect(ctx context.Context) (*mcpwire.Client, error) {
	transport := mcpwire.NewSSEClient(serverURL, nil)
	client := mcpwire.NewClient(
		mcpwire.Info{Name: "mcpwire-cli", Version: version},
		transport,
	)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", serverURL, err)
	}
	return client, nil
}

func runTools(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	srvInfo := client.ServerInfo()
	color.New(color.Bold).Printf("%s %s\n\n", srvInfo.Name, srvInfo.Version)

	result, err := client.ListTools(ctx, mcpwire.ListToolsParams{})
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}

	if len(result.Tools) == 0 {
		fmt.Println("No tools available.")
		return nil
	}

	nameColor := color.New(color.FgCyan, color.Bold)
	for _, tool := range result.Tools {
		nameColor.Println(tool.Name)
		if tool.Description != "" {
			fmt.Printf("  %s\n", tool.Description)
		}
	}

	return nil
}
