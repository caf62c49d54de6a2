// Package tools mediates between the execution pipeline and MCP tool
// servers. A Mediator's lifecycle is scoped to a single turn: servers are
// spawned at turn start, tools discovered and filtered, calls gated through
// the approval registry, and every subprocess torn down at turn end.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/thinksuit/thinksuit/internal/approval"
	"github.com/thinksuit/thinksuit/internal/journal"
	"github.com/thinksuit/thinksuit/internal/mcp"
	"github.com/thinksuit/thinksuit/pkg/models"
)

// filesystemServerName is the baked-in server every turn gets. Its allowed
// directories come from configuration, enforced here rather than by modules.
const filesystemServerName = "filesystem"

// Config selects which servers to spawn and which tools survive filtering.
type Config struct {
	AllowedDirectories []string
	Servers            map[string]ServerSpec
	AllowedTools       []string
	AutoApproveTools   bool
}

// ServerSpec mirrors one entry of the mcpServers configuration map.
type ServerSpec struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// serverClient is the slice of the MCP client the mediator needs. The
// indirection lets tests substitute a scripted client for a subprocess.
type serverClient interface {
	Connect(ctx context.Context) error
	Close() error
	Name() string
	Tools() []*mcp.Tool
	CallTool(ctx context.Context, name string, arguments json.RawMessage) (*mcp.ToolCallResult, error)
}

// Handle is one discovered tool bound to the client that serves it.
type Handle struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Server      string

	client serverClient
	schema *jsonschema.Schema
}

// Mediator owns the subprocess handles for one turn.
type Mediator struct {
	cfg       Config
	journal   *journal.Writer
	approvals *approval.Registry
	logger    *slog.Logger
	newClient func(cfg *mcp.ServerConfig) serverClient

	mu      sync.RWMutex
	clients []serverClient
	handles map[string]*Handle
	order   []string
	dead    map[string]bool
}

// NewMediator builds an unstarted mediator.
func NewMediator(cfg Config, w *journal.Writer, approvals *approval.Registry, logger *slog.Logger) *Mediator {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mediator{
		cfg:       cfg,
		journal:   w,
		approvals: approvals,
		logger:    logger.With("component", "tools"),
		handles:   make(map[string]*Handle),
		dead:      make(map[string]bool),
	}
	m.newClient = func(sc *mcp.ServerConfig) serverClient {
		return mcp.NewClient(sc, m.logger)
	}
	return m
}

// serverConfigs composes the spawn list: the filesystem server first, then
// user-configured servers in name order.
func (m *Mediator) serverConfigs() []*mcp.ServerConfig {
	fsArgs := []string{"-y", "@modelcontextprotocol/server-filesystem"}
	fsArgs = append(fsArgs, m.cfg.AllowedDirectories...)
	configs := []*mcp.ServerConfig{{
		Name:    filesystemServerName,
		Command: "npx",
		Args:    fsArgs,
	}}

	names := make([]string, 0, len(m.cfg.Servers))
	for name := range m.cfg.Servers {
		if name == filesystemServerName {
			continue // the baked-in server is not overridable
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec := m.cfg.Servers[name]
		configs = append(configs, &mcp.ServerConfig{
			Name:    name,
			Command: spec.Command,
			Args:    spec.Args,
			Env:     spec.Env,
		})
	}
	return configs
}

// Start spawns every configured server and discovers its tools. A server
// that fails to come up is logged and skipped; the turn proceeds with the
// servers that did start.
func (m *Mediator) Start(ctx context.Context, sessionID string) error {
	for _, cfg := range m.serverConfigs() {
		client := m.newClient(cfg)
		if err := client.Connect(ctx); err != nil {
			m.logger.Warn("server failed to start", "server", cfg.Name, "error", err)
			m.emit(sessionID, models.Entry{
				Event: models.EventMCPStartup,
				Level: models.LevelWarn,
				Msg:   "server failed to start",
				Data:  map[string]any{"server": cfg.Name, "error": err.Error()},
			})
			continue
		}

		m.mu.Lock()
		m.clients = append(m.clients, client)
		m.mu.Unlock()

		m.emit(sessionID, models.Entry{
			Event: models.EventMCPStartup,
			Data: map[string]any{
				"server":    cfg.Name,
				"toolCount": len(client.Tools()),
			},
		})
		m.register(sessionID, cfg.Name, client)
	}
	return nil
}

// register folds one server's tools into the discovered set. First
// registration wins a name; later arrivals emit a conflict event.
func (m *Mediator) register(sessionID, server string, client serverClient) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tool := range client.Tools() {
		if existing, ok := m.handles[tool.Name]; ok {
			m.logger.Warn("tool name conflict",
				"tool", tool.Name,
				"kept", existing.Server,
				"ignored", server)
			m.emit(sessionID, models.Entry{
				Event: models.EventMCPToolConflict,
				Level: models.LevelWarn,
				Data: map[string]any{
					"tool":    tool.Name,
					"kept":    existing.Server,
					"ignored": server,
				},
			})
			continue
		}
		m.handles[tool.Name] = &Handle{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
			Server:      server,
			client:      client,
			schema:      compileSchema(tool.Name, tool.InputSchema),
		}
		m.order = append(m.order, tool.Name)
	}
}

// allowed applies the allowedTools policy. An unset or empty list allows
// everything.
func (m *Mediator) allowed(name string) bool {
	if len(m.cfg.AllowedTools) == 0 {
		return true
	}
	for _, t := range m.cfg.AllowedTools {
		if t == name {
			return true
		}
	}
	return false
}

func compileSchema(name string, raw json.RawMessage) *jsonschema.Schema {
	if len(raw) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	url := "tool://" + name
	if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil
	}
	return schema
}

// Tools returns the filtered handles in registration order. Discovery keeps
// every tool so collision resolution is stable; the allowedTools policy is
// applied here.
func (m *Mediator) Tools() []*Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Handle, 0, len(m.order))
	for _, name := range m.order {
		if m.allowed(name) {
			out = append(out, m.handles[name])
		}
	}
	return out
}

// Lookup returns the handle for an allowed tool name.
func (m *Mediator) Lookup(name string) (*Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.allowed(name) {
		return nil, false
	}
	h, ok := m.handles[name]
	return h, ok
}

// ValidateDependencies checks that every tool a module declares is present
// in the filtered set.
func (m *Mediator) ValidateDependencies(deps []string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var missing []string
	for _, dep := range deps {
		if _, ok := m.handles[dep]; !ok || !m.allowed(dep) {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return models.NewError(models.CodeToolMissingDeps,
			"module requires tools not available: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Call executes a tool by name. Arguments arrive as either a JSON string or
// an object; a wrapper of the form {"args": ...} is unwrapped. Denials and
// failures are reported in the response rather than as errors so the model
// sees them as tool results.
func (m *Mediator) Call(ctx context.Context, sessionID, tool string, args any) models.ToolResponse {
	handle, ok := m.Lookup(tool)
	if !ok {
		return models.ToolResponse{Success: false,
			Error: models.NewError(models.CodeToolUnavailable, "tool not available: %s", tool).Error()}
	}
	m.mu.RLock()
	serverDown := m.dead[handle.Server]
	m.mu.RUnlock()
	if serverDown {
		return models.ToolResponse{Success: false,
			Error: models.NewError(models.CodeToolUnavailable, "server %s is down", handle.Server).Error()}
	}

	rawArgs, err := normalizeArgs(args)
	if err != nil {
		return models.ToolResponse{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err)}
	}

	if handle.schema != nil {
		var doc any
		if err := json.Unmarshal(rawArgs, &doc); err == nil {
			if err := handle.schema.Validate(doc); err != nil {
				return models.ToolResponse{Success: false, Error: fmt.Sprintf("arguments rejected by schema: %v", err)}
			}
		}
	}

	if !m.cfg.AutoApproveTools {
		approved, err := m.awaitApproval(ctx, sessionID, tool, rawArgs)
		if err != nil {
			return models.ToolResponse{Success: false, Error: err.Error()}
		}
		if !approved {
			return models.ToolResponse{Success: false,
				Error: models.NewError(models.CodeToolDenied, "tool_denied").Error()}
		}
	}

	m.emit(sessionID, models.Entry{
		Event: models.EventToolCall,
		Data: map[string]any{
			"tool":   tool,
			"server": handle.Server,
			"args":   json.RawMessage(rawArgs),
		},
	})

	result, err := handle.client.CallTool(ctx, tool, rawArgs)
	if err != nil {
		// A transport failure means the subprocess is gone for the rest of
		// the turn. Later calls routed to it fail fast.
		m.mu.Lock()
		m.dead[handle.Server] = true
		m.mu.Unlock()
		m.logger.Warn("server call failed", "server", handle.Server, "tool", tool, "error", err)
		return models.ToolResponse{Success: false,
			Error: models.WrapError(models.CodeToolUnavailable, err, "server %s failed", handle.Server).Error()}
	}
	if result.IsError {
		return models.ToolResponse{Success: false, Error: result.Text()}
	}
	return models.ToolResponse{Success: true, Result: result.Text()}
}

// awaitApproval suspends the call on the approval registry until an
// operator resolves it or the request expires.
func (m *Mediator) awaitApproval(ctx context.Context, sessionID, tool string, args json.RawMessage) (bool, error) {
	approvalID, done := m.approvals.Submit(ctx, sessionID, tool, args)
	m.emit(sessionID, models.Entry{
		Event: models.EventToolApprovalRequest,
		Data: map[string]any{
			"approvalId": approvalID,
			"tool":       tool,
			"args":       json.RawMessage(args),
		},
	})
	select {
	case approved := <-done:
		return approved, nil
	case <-ctx.Done():
		return false, models.WrapError(models.CodeAbort, ctx.Err(), "approval wait aborted")
	}
}

// Stop tears down every subprocess. One server's failure does not stop the
// teardown of the rest.
func (m *Mediator) Stop(sessionID string) {
	m.mu.Lock()
	clients := m.clients
	m.clients = nil
	m.handles = make(map[string]*Handle)
	m.order = nil
	m.dead = make(map[string]bool)
	m.mu.Unlock()

	for _, client := range clients {
		name := client.Name()
		if err := client.Close(); err != nil {
			m.logger.Warn("server shutdown failed", "server", name, "error", err)
		}
		m.emit(sessionID, models.Entry{
			Event: models.EventMCPShutdown,
			Data:  map[string]any{"server": name},
		})
	}
}

// normalizeArgs accepts string or object arguments and unwraps {"args": …}.
func normalizeArgs(args any) (json.RawMessage, error) {
	var raw json.RawMessage
	switch v := args.(type) {
	case nil:
		raw = json.RawMessage(`{}`)
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			raw = json.RawMessage(`{}`)
		} else if !json.Valid([]byte(trimmed)) {
			return nil, fmt.Errorf("argument string is not valid JSON")
		} else {
			raw = json.RawMessage(trimmed)
		}
	case json.RawMessage:
		raw = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = data
	}

	var wrapper struct {
		Args json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && len(wrapper.Args) > 0 {
		raw = wrapper.Args
	}
	return raw, nil
}

func (m *Mediator) emit(sessionID string, e models.Entry) {
	if m.journal == nil || sessionID == "" {
		return
	}
	if err := m.journal.Append(sessionID, e); err != nil {
		m.logger.Warn("journal append failed", "event", e.Event, "error", err)
	}
}
