// Package mcp implements the MCP (Model Context Protocol) server for vaultctl.
// AI agents can create, open and close vaults; every path they pass is
// checked against the MCP policy first.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/vaultctl/pkg/session"
	"github.com/forest6511/vaultctl/pkg/vault"
)

// maxConcurrentOps limits concurrent vault_create / vault_load calls, which
// pack or extract whole archives.
const maxConcurrentOps = 2

// Server represents the MCP server for vaultctl.
type Server struct {
	server   *mcp.Server
	vaults   *vault.Service
	sessions *session.Manager
	policy   *Policy
	logger   *log.Logger
	opSem    chan struct{} // Semaphore for limiting concurrent archive operations

	mu     sync.Mutex
	opened map[string]bool // session ids opened through this server
}

// ServerOptions contains configuration options for the MCP server.
type ServerOptions struct {
	// Vaults performs the vault operations. Required.
	Vaults *vault.Service

	// Sessions tracks opened vaults. Required.
	Sessions *session.Manager

	// DataDir is searched for the MCP policy file. If empty, every path is allowed.
	DataDir string

	// Version is reported to MCP clients.
	Version string

	Logger *log.Logger
}

// NewServer creates a new MCP server instance.
func NewServer(opts *ServerOptions) (*Server, error) {
	if opts == nil || opts.Vaults == nil || opts.Sessions == nil {
		return nil, errors.New("mcp: vault service and session manager are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	policy := OpenPolicy()
	if opts.DataDir != "" {
		p, err := LoadPolicy(opts.DataDir)
		switch {
		case errors.Is(err, ErrPolicyNotFound):
			logger.Info("no MCP policy file, all paths allowed")
		case err != nil:
			// Policy load failure is not fatal, but nothing is allowed
			logger.Warn("failed to load MCP policy, denying all paths", "err", err)
			policy = &Policy{Version: 1, DefaultAction: ActionDeny}
		default:
			policy = p
		}
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "vaultctl",
			Version: version,
		},
		nil,
	)

	s := &Server{
		server:   mcpServer,
		vaults:   opts.Vaults,
		sessions: opts.Sessions,
		policy:   policy,
		logger:   logger,
		opSem:    make(chan struct{}, maxConcurrentOps),
		opened:   make(map[string]bool),
	}

	s.registerTools()

	return s, nil
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vault_create",
		Description: "Create a new empty vault file at the given path, replacing any existing file atomically. Opens it unless no_open is set.",
	}, s.handleVaultCreate)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vault_load",
		Description: "Open an existing vault: extract it into a fresh workspace and return the session id and the user-files directory.",
	}, s.handleVaultLoad)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vault_close",
		Description: "Close an open vault session and delete its workspace.",
	}, s.handleVaultClose)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vault_sessions",
		Description: "List open vault sessions with their workspace paths.",
	}, s.handleVaultSessions)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vault_info",
		Description: "Read a vault's manifest and entry list without opening it.",
	}, s.handleVaultInfo)
}

// Run starts the MCP server using stdio transport. Sessions opened through
// the server are closed when it stops.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Close closes every session this server opened. Failures are logged and
// joined; sessions that could not be closed stay registered.
func (s *Server) Close() error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.opened))
	for id := range s.opened {
		ids = append(ids, id)
	}
	s.opened = make(map[string]bool)
	s.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	s.logger.Info("closing MCP sessions", "count", len(ids))
	if err := s.sessions.CloseAll(context.Background(), ids); err != nil {
		return fmt.Errorf("failed to close sessions: %w", err)
	}
	return nil
}

func (s *Server) track(id string) {
	s.mu.Lock()
	s.opened[id] = true
	s.mu.Unlock()
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.opened, id)
	s.mu.Unlock()
}
