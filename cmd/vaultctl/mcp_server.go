package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forest6511/vaultctl/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpServerCmd)
}

// mcpServerCmd starts the MCP server for AI coding assistant integration
var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Start the MCP server for AI coding assistant integration",
	Long: `Start the MCP server that lets AI coding assistants create, open and
close vaults over the Model Context Protocol (stdio transport).

Available tools:
  - vault_create:   Create a new vault (and open it unless no_open is set)
  - vault_load:     Open a vault into a fresh workspace
  - vault_close:    Close a session and delete its workspace
  - vault_sessions: List open sessions
  - vault_info:     Read a vault's manifest without opening it

Sessions opened through the server are closed when it exits.

Policy:
  Create ~/.vaultctl/mcp-policy.yaml (mode 0600) to restrict the paths the
  tools may touch:

    version: 1
    default_action: deny
    allowed_paths:
      - /home/me/vaults
    denied_paths:
      - /home/me/vaults/archive
    allow_create: true

  Without a policy file every path is allowed.

Example MCP configuration:
  {
    "mcpServers": {
      "vaultctl": {
        "type": "stdio",
        "command": "/path/to/vaultctl",
        "args": ["mcp-server"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCPServer(cmd.Context())
	},
}

func runMCPServer(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	server, err := mcp.NewServer(&mcp.ServerOptions{
		Vaults:   a.vaults,
		Sessions: a.sessions,
		DataDir:  a.cfg.DataDir,
		Version:  version,
		Logger:   a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run the server
	if err := server.Run(ctx); err != nil {
		// Don't report context canceled as an error
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("MCP server error: %w", err)
	}

	return nil
}
