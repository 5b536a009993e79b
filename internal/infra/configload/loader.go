package configload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/VenkatGGG/ThinMCP/internal/domain"
)

// Config is the gateway's full bootstrap configuration: where the
// catalog lives on disk, how often it resyncs, and the upstream server
// list the Upstream Manager starts with.
type Config struct {
	DBPath               string
	SnapshotDir          string
	SyncIntervalSeconds  int
	BaseBackoffMs        int
	MaxBackoffMs         int
	StdioRetries         int
	SandboxTimeoutMs     int
	SandboxMaxCodeLength int
	Servers              []domain.ServerConfig
}

type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger.Named("configload")}
}

func newConfigViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("dbPath", "gatewayd.db")
	v.SetDefault("snapshotDir", "snapshots")
	v.SetDefault("syncIntervalSeconds", 60)
	v.SetDefault("baseBackoffMs", 1000)
	v.SetDefault("maxBackoffMs", 30000)
	v.SetDefault("stdioRetries", 2)
	v.SetDefault("sandboxTimeoutMs", 5000)
	v.SetDefault("sandboxMaxCodeLength", 20000)
	return v
}

type rawConfig struct {
	DBPath               string          `mapstructure:"dbPath"`
	SnapshotDir          string          `mapstructure:"snapshotDir"`
	SyncIntervalSeconds  int             `mapstructure:"syncIntervalSeconds"`
	BaseBackoffMs        int             `mapstructure:"baseBackoffMs"`
	MaxBackoffMs         int             `mapstructure:"maxBackoffMs"`
	StdioRetries         int             `mapstructure:"stdioRetries"`
	SandboxTimeoutMs     int             `mapstructure:"sandboxTimeoutMs"`
	SandboxMaxCodeLength int             `mapstructure:"sandboxMaxCodeLength"`
	Servers              []rawServerSpec `mapstructure:"servers"`
}

type rawServerSpec struct {
	ID        string           `mapstructure:"id"`
	Name      string           `mapstructure:"name"`
	Enabled   *bool            `mapstructure:"enabled"`
	AllowList []string         `mapstructure:"allowList"`
	Transport rawTransportSpec `mapstructure:"transport"`
}

type rawTransportSpec struct {
	Kind  string       `mapstructure:"kind"`
	HTTP  rawHTTPSpec  `mapstructure:"http"`
	Stdio rawStdioSpec `mapstructure:"stdio"`
}

type rawHTTPSpec struct {
	URL          string `mapstructure:"url"`
	BearerEnvVar string `mapstructure:"bearerEnvVar"`
}

type rawStdioSpec struct {
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Cwd     string            `mapstructure:"cwd"`
	Env     map[string]string `mapstructure:"env"`
	Stderr  string            `mapstructure:"stderr"`
}

// Load reads, env-expands, and decodes the catalog config at path into a
// validated Config. Every server config entry is validated individually;
// all errors are collected and returned together rather than failing on
// the first one, matching the teacher's loader pattern.
func (l *Loader) Load(ctx context.Context, path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is required")
	}

	data, err := readFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	expanded, missing, err := expandConfigEnv(data)
	if err != nil {
		return Config{}, err
	}
	if len(missing) > 0 {
		l.logger.Warn("missing environment variables in config", zap.String("path", path), zap.Strings("missing", missing))
	}

	v := newConfigViper()
	if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:               raw.DBPath,
		SnapshotDir:          raw.SnapshotDir,
		SyncIntervalSeconds:  raw.SyncIntervalSeconds,
		BaseBackoffMs:        raw.BaseBackoffMs,
		MaxBackoffMs:         raw.MaxBackoffMs,
		StdioRetries:         raw.StdioRetries,
		SandboxTimeoutMs:     raw.SandboxTimeoutMs,
		SandboxMaxCodeLength: raw.SandboxMaxCodeLength,
	}

	var validationErrors []string
	seen := make(map[string]struct{})
	for i, spec := range raw.Servers {
		server, errs := normalizeServerSpec(spec, i)
		if len(errs) > 0 {
			validationErrors = append(validationErrors, errs...)
			continue
		}
		if _, exists := seen[server.ID]; exists {
			validationErrors = append(validationErrors, fmt.Sprintf("servers[%d]: duplicate id %q", i, server.ID))
			continue
		}
		seen[server.ID] = struct{}{}
		cfg.Servers = append(cfg.Servers, server)
	}

	if len(validationErrors) > 0 {
		return Config{}, errors.New(strings.Join(validationErrors, "; "))
	}
	return cfg, nil
}

func normalizeServerSpec(raw rawServerSpec, index int) (domain.ServerConfig, []string) {
	var errs []string

	if raw.ID == "" {
		errs = append(errs, fmt.Sprintf("servers[%d]: id is required", index))
	}
	enabled := true
	if raw.Enabled != nil {
		enabled = *raw.Enabled
	}

	transport, transportErrs := normalizeTransportSpec(raw.Transport, index)
	errs = append(errs, transportErrs...)

	if len(errs) > 0 {
		return domain.ServerConfig{}, errs
	}

	return domain.ServerConfig{
		ID:        raw.ID,
		Name:      raw.Name,
		Enabled:   enabled,
		AllowList: raw.AllowList,
		Transport: transport,
	}, nil
}

func normalizeTransportSpec(raw rawTransportSpec, index int) (domain.TransportSpec, []string) {
	var errs []string

	switch domain.TransportKind(raw.Kind) {
	case domain.TransportStreamHTTP:
		if strings.TrimSpace(raw.HTTP.URL) == "" {
			errs = append(errs, fmt.Sprintf("servers[%d]: transport.http.url is required for stream_http transport", index))
		}
		if len(errs) > 0 {
			return domain.TransportSpec{}, errs
		}
		return domain.TransportSpec{
			Kind: domain.TransportStreamHTTP,
			HTTP: &domain.HTTPTransportSpec{
				URL:          raw.HTTP.URL,
				BearerEnvVar: raw.HTTP.BearerEnvVar,
			},
		}, nil
	case domain.TransportStdio:
		if raw.Stdio.Command == "" {
			errs = append(errs, fmt.Sprintf("servers[%d]: transport.stdio.command is required for stdio transport", index))
		}
		stderr := domain.StderrIgnore
		switch raw.Stdio.Stderr {
		case "", string(domain.StderrIgnore):
			stderr = domain.StderrIgnore
		case string(domain.StderrLog):
			stderr = domain.StderrLog
		default:
			errs = append(errs, fmt.Sprintf("servers[%d]: transport.stdio.stderr must be ignore or log", index))
		}
		if len(errs) > 0 {
			return domain.TransportSpec{}, errs
		}
		return domain.TransportSpec{
			Kind: domain.TransportStdio,
			Stdio: &domain.StdioTransportSpec{
				Command: raw.Stdio.Command,
				Args:    raw.Stdio.Args,
				Cwd:     raw.Stdio.Cwd,
				Env:     raw.Stdio.Env,
				Stderr:  stderr,
			},
		}, nil
	default:
		return domain.TransportSpec{}, []string{fmt.Sprintf("servers[%d]: transport.kind must be stream_http or stdio", index)}
	}
}
