package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Client speaks the protocol to a single server subprocess.
type Client struct {
	config    *ServerConfig
	transport *stdioTransport
	logger    *slog.Logger

	mu         sync.RWMutex
	tools      []*Tool
	serverInfo ServerInfo
}

// NewClient builds a client for one configured server. The connection is
// not established until Connect.
func NewClient(cfg *ServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:    cfg,
		transport: newStdioTransport(cfg, logger),
		logger:    logger.With("server", cfg.Name),
	}
}

// Connect spawns the subprocess, performs the initialize handshake, and
// lists the server's tools.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.config.Validate(); err != nil {
		return err
	}
	if err := c.transport.connect(ctx); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}

	result, err := c.transport.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "thinksuit",
			"version": "1.0.0",
		},
	})
	if err != nil {
		c.transport.close()
		return fmt.Errorf("initialize: %w", err)
	}

	var init initializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		c.transport.close()
		return fmt.Errorf("parse initialize result: %w", err)
	}

	c.mu.Lock()
	c.serverInfo = init.ServerInfo
	c.mu.Unlock()
	c.logger.Info("connected to server",
		"name", init.ServerInfo.Name,
		"version", init.ServerInfo.Version,
		"protocol", init.ProtocolVersion)

	if err := c.transport.notify("notifications/initialized", nil); err != nil {
		c.logger.Warn("failed to send initialized notification", "error", err)
	}

	if err := c.refreshTools(ctx); err != nil {
		c.transport.close()
		return fmt.Errorf("list tools: %w", err)
	}
	return nil
}

// Close terminates the subprocess.
func (c *Client) Close() error {
	return c.transport.close()
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.config.Name }

// ServerInfo returns the identity reported during initialize.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Connected reports whether the subprocess is still up.
func (c *Client) Connected() bool {
	return c.transport.connected.Load()
}

func (c *Client) refreshTools(ctx context.Context) error {
	result, err := c.transport.call(ctx, "tools/list", nil)
	if err != nil {
		return err
	}
	var resp listToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return fmt.Errorf("parse tools/list result: %w", err)
	}
	c.mu.Lock()
	c.tools = resp.Tools
	c.mu.Unlock()
	c.logger.Debug("listed tools", "count", len(resp.Tools))
	return nil
}

// Tools returns the tools listed at connect time.
func (c *Client) Tools() []*Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// CallTool invokes tools/call with pre-serialized arguments.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolCallResult, error) {
	params := callToolParams{Name: name, Arguments: arguments}
	result, err := c.transport.call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}
	var callResult ToolCallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("parse tools/call result: %w", err)
	}
	return &callResult, nil
}
