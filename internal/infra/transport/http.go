package transport

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/VenkatGGG/ThinMCP/internal/domain"
)

const defaultStreamableHTTPMaxRetries = 3

// StreamableHTTPTransport connects to an upstream speaking MCP over the
// streamable-HTTP transport, resolving its bearer token from an
// environment variable at connect time rather than storing the secret
// in the catalog (spec §3).
type StreamableHTTPTransport struct {
	logger *zap.Logger
}

// NewStreamableHTTPTransport builds a StreamableHTTPTransport. logger may be nil.
func NewStreamableHTTPTransport(logger *zap.Logger) *StreamableHTTPTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamableHTTPTransport{logger: logger}
}

func (t *StreamableHTTPTransport) Connect(ctx context.Context, cfg domain.ServerConfig) (domain.Conn, error) {
	if cfg.Transport.Kind != domain.TransportStreamHTTP || cfg.Transport.HTTP == nil {
		return nil, fmt.Errorf("server %s is not configured for stream_http transport", cfg.ID)
	}
	spec := cfg.Transport.HTTP
	endpoint := strings.TrimSpace(spec.URL)
	if endpoint == "" {
		return nil, fmt.Errorf("server %s: stream_http url is required", cfg.ID)
	}

	rt, err := buildBearerRoundTripper(spec)
	if err != nil {
		return nil, fmt.Errorf("server %s: %w", cfg.ID, err)
	}

	client := &http.Client{Transport: rt}
	mcpTransport := &mcp.StreamableClientTransport{
		Endpoint:   endpoint,
		HTTPClient: client,
		MaxRetries: defaultStreamableHTTPMaxRetries,
	}
	mcpConn, err := mcpTransport.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect stream_http server %s: %w", cfg.ID, err)
	}

	return newClientConn(mcpConn, t.logger.Named("http_conn").With(zap.String("server", cfg.ID))), nil
}

func buildBearerRoundTripper(spec *domain.HTTPTransportSpec) (http.RoundTripper, error) {
	base := http.DefaultTransport
	if spec.BearerEnvVar == "" {
		return base, nil
	}
	token := os.Getenv(spec.BearerEnvVar)
	if token == "" {
		return nil, fmt.Errorf("bearer env var %s is unset", spec.BearerEnvVar)
	}
	return &headerRoundTripper{
		base:    base,
		headers: http.Header{"Authorization": []string{"Bearer " + token}},
	}, nil
}

type headerRoundTripper struct {
	base    http.RoundTripper
	headers http.Header
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for key, values := range h.headers {
		cloned.Header.Del(key)
		for _, value := range values {
			cloned.Header.Add(key, value)
		}
	}
	return h.base.RoundTrip(cloned)
}

var _ domain.Transport = (*StreamableHTTPTransport)(nil)
