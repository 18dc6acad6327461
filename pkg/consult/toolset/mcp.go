package toolset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/medconsult/pkg/flowgraph/template"
)

// Transports accepted by ServerConfig.Transport.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

const (
	clientName    = "medconsult"
	clientVersion = "1.0.0"
)

// ServerConfig describes one MCP server.
type ServerConfig struct {
	Name      string `mapstructure:"name" yaml:"name"`
	Transport string `mapstructure:"transport" yaml:"transport"`

	// stdio
	Command string            `mapstructure:"command" yaml:"command"`
	Args    []string          `mapstructure:"args" yaml:"args"`
	Env     map[string]string `mapstructure:"env" yaml:"env"`

	// streamable HTTP
	URL     string            `mapstructure:"url" yaml:"url"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers"`
}

// Validate checks the fields the transport needs.
func (c ServerConfig) Validate() error {
	if c.Name == "" {
		return errors.New("mcp server name is required")
	}
	switch c.Transport {
	case "", TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("mcp server %s: command is required for stdio", c.Name)
		}
	case TransportHTTP:
		if c.URL == "" {
			return fmt.Errorf("mcp server %s: url is required for http", c.Name)
		}
	default:
		return fmt.Errorf("mcp server %s: unknown transport %q", c.Name, c.Transport)
	}
	return nil
}

// Dialer opens a started, uninitialized client for a server.
type Dialer func(ctx context.Context, cfg ServerConfig) (*client.Client, error)

// MCPOption configures an MCP provider.
type MCPOption func(*MCP)

// WithDialer replaces how clients are opened.
func WithDialer(d Dialer) MCPOption {
	return func(m *MCP) {
		m.dial = d
	}
}

// WithMCPLogger sets the logger.
func WithMCPLogger(logger *slog.Logger) MCPOption {
	return func(m *MCP) {
		m.logger = logger
	}
}

// MCP is a Provider backed by MCP servers. Tool names are used as the
// servers report them; on a clash the server listed first wins.
type MCP struct {
	servers []ServerConfig
	dial    Dialer
	logger  *slog.Logger

	mu      sync.Mutex
	clients []*client.Client
}

// NewMCP creates a provider for servers. Nothing connects until ListTools.
func NewMCP(servers []ServerConfig, opts ...MCPOption) *MCP {
	m := &MCP{
		servers: servers,
		dial:    Dial,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ListTools connects to every server concurrently and returns their tools.
// Any server failing fails the whole listing.
func (m *MCP) ListTools(ctx context.Context) ([]Tool, error) {
	perServer := make([][]Tool, len(m.servers))

	g, gctx := errgroup.WithContext(ctx)
	for i, srv := range m.servers {
		g.Go(func() error {
			tools, err := m.connect(gctx, srv)
			if err != nil {
				return fmt.Errorf("mcp server %s: %w", srv.Name, err)
			}
			perServer[i] = tools
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]string)
	var tools []Tool
	for i, list := range perServer {
		for _, t := range list {
			if owner, dup := seen[t.Name]; dup {
				m.logger.Warn("duplicate mcp tool ignored",
					slog.String("tool", t.Name),
					slog.String("server", m.servers[i].Name),
					slog.String("kept_from", owner))
				continue
			}
			seen[t.Name] = m.servers[i].Name
			tools = append(tools, t)
		}
	}
	return tools, nil
}

func (m *MCP) connect(ctx context.Context, srv ServerConfig) ([]Tool, error) {
	if err := srv.Validate(); err != nil {
		return nil, err
	}
	c, err := m.dial(ctx, srv)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	m.mu.Lock()
	m.clients = append(m.clients, c)
	m.mu.Unlock()

	init := mcp.InitializeRequest{}
	init.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	init.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	if _, err := c.Initialize(ctx, init); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	res, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	tools := make([]Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		tools = append(tools, adapt(c, t))
	}
	m.logger.Info("mcp server connected",
		slog.String("server", srv.Name),
		slog.Int("tools", len(tools)))
	return tools, nil
}

// Close disconnects every client opened by ListTools.
func (m *MCP) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, c := range m.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.clients = nil
	return errors.Join(errs...)
}

// envExpander resolves ${VAR} references in server settings from the
// process environment. Unset variables expand to "".
var envExpander = template.NewExpander(
	template.WithLookup(os.LookupEnv),
	template.WithMissingAction(template.MissingEmpty),
)

// Expand returns cfg with ${VAR} references in its command, args, env
// values, url and header values resolved from the environment.
func (c ServerConfig) Expand() ServerConfig {
	out := c
	out.Command = envExpander.MustExpand(c.Command, nil)
	out.URL = envExpander.MustExpand(c.URL, nil)
	// MissingEmpty never fails.
	out.Args, _ = envExpander.ExpandAll(c.Args, nil)
	out.Env, _ = envExpander.ExpandMap(c.Env, nil)
	out.Headers, _ = envExpander.ExpandMap(c.Headers, nil)
	return out
}

// Dial opens a stdio or streamable HTTP client. ${VAR} references in cfg
// are resolved first.
func Dial(ctx context.Context, cfg ServerConfig) (*client.Client, error) {
	cfg = cfg.Expand()
	switch cfg.Transport {
	case TransportHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		c, err := client.NewStreamableHttpClient(cfg.URL, opts...)
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			_ = c.Close()
			return nil, err
		}
		return c, nil
	default:
		// The stdio client starts its subprocess on creation.
		return client.NewStdioMCPClient(cfg.Command, envList(cfg.Env), cfg.Args...)
	}
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func adapt(c *client.Client, t mcp.Tool) Tool {
	schema := t.RawInputSchema
	if len(schema) == 0 {
		if b, err := json.Marshal(t.InputSchema); err == nil {
			schema = b
		}
	}

	name := t.Name
	return Tool{
		Name:        name,
		Description: t.Description,
		Parameters:  schema,
		Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
			var arguments map[string]any
			if len(args) > 0 && string(args) != "null" {
				if err := json.Unmarshal(args, &arguments); err != nil {
					return "", fmt.Errorf("decode arguments for %s: %w", name, err)
				}
			}

			req := mcp.CallToolRequest{}
			req.Params.Name = name
			req.Params.Arguments = arguments

			res, err := c.CallTool(ctx, req)
			if err != nil {
				return "", err
			}
			text := resultText(res.Content)
			if res.IsError {
				return "", fmt.Errorf("tool %s reported an error: %s", name, text)
			}
			return text, nil
		},
	}
}

func resultText(contents []mcp.Content) string {
	parts := make([]string, 0, len(contents))
	for _, c := range contents {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if b, err := json.Marshal(c); err == nil {
				parts = append(parts, string(b))
			}
		}
	}
	return strings.Join(parts, "\n")
}
