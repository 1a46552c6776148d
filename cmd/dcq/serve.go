package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	dcquery "github.com/datacommons-io/query-compiler"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

func runServe() error {
	ctx := context.Background()

	serverConfig, err := loadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	applyEnvOverrides(&serverConfig.Connection)

	if serverConfig.Server.Port <= 0 {
		panic("dcq: server.port must be > 0")
	}

	connString := buildConnString(serverConfig.Connection)
	logger := setupLogger(serverConfig.Logging, serverConfig.Connection.DockerDeployed)

	engine, err := dcquery.NewEngine(ctx, connString, serverConfig.Config, logger)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer engine.Close()

	logger.Info().Msg("catalog built successfully")

	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		clientName := req.Params.ClientInfo.Name
		clientVersion := req.Params.ClientInfo.Version
		logger.Info().
			Str("client_name", clientName).
			Str("client_version", clientVersion).
			Msg("AI agent connected (MCP initialize)")
	})

	mcpServer := server.NewMCPServer("dcq", "1.0.0",
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
	)
	dcquery.RegisterMCPTools(mcpServer, engine)

	mux := http.NewServeMux()
	mux.Handle("/", dcquery.LogRequests(logger, dcquery.NewHTTPHandler(engine)))

	if serverConfig.Server.HealthCheckEnabled {
		if serverConfig.Server.HealthCheckPath == "" {
			panic("dcq: health_check_path must be set when health_check_enabled is true")
		}
		mux.HandleFunc(serverConfig.Server.HealthCheckPath, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
	}

	streamableServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
	)
	mux.Handle("/mcp", streamableServer)

	addr := fmt.Sprintf(":%d", serverConfig.Server.Port)
	httpSrv := &http.Server{Addr: addr, Handler: mux}

	logger.Info().Int("port", serverConfig.Server.Port).Msg("starting dcq server")
	return httpSrv.ListenAndServe()
}

func loadServerConfig() (*dcquery.ServerConfig, error) {
	configPath := os.Getenv("DCQ_CONFIG_PATH")
	if configPath == "" {
		configPath = ".dcq/config.json"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		config := dcquery.DefaultServerConfig()
		return &config, nil
	}

	config := dcquery.DefaultServerConfig()
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides reads the DB_* / DOCKER_DEPLOYED environment variables
// (spec §6) over whatever the config file set.
func applyEnvOverrides(conn *dcquery.ConnectionConfig) {
	if v := os.Getenv("DB_USERNAME"); v != "" {
		conn.Username = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		conn.Password = v
	}
	if v := os.Getenv("DB_HOSTNAME"); v != "" {
		conn.Hostname = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			conn.Port = p
		}
	}
	if v := os.Getenv("DB_DATABASE"); v != "" {
		conn.Database = v
	}
	if v := os.Getenv("DOCKER_DEPLOYED"); v != "" {
		conn.DockerDeployed = v == "true" || v == "1"
	}
	if conn.Hostname == "" {
		if conn.DockerDeployed {
			conn.Hostname = "postgres"
		} else {
			conn.Hostname = "localhost"
		}
	}
}

func buildConnString(conn dcquery.ConnectionConfig) string {
	parts := []string{}
	if conn.Hostname != "" {
		parts = append(parts, fmt.Sprintf("host=%s", conn.Hostname))
	}
	if conn.Port > 0 {
		parts = append(parts, fmt.Sprintf("port=%d", conn.Port))
	}
	if conn.Database != "" {
		parts = append(parts, fmt.Sprintf("dbname=%s", conn.Database))
	}
	if conn.Username != "" {
		parts = append(parts, fmt.Sprintf("user=%s", conn.Username))
	}
	if conn.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", conn.Password))
	}
	return strings.Join(parts, " ")
}

// setupLogger builds the process-wide logger. DOCKER_DEPLOYED selects
// between the two logger configurations spec §6 calls for: a plain JSON
// writer to stdout when containerized (where an orchestrator collects
// stdout), versus the config file's own level/format/output when run
// directly on a host.
func setupLogger(config dcquery.LoggingConfig, dockerDeployed bool) zerolog.Logger {
	if dockerDeployed {
		return zerolog.New(os.Stdout).Level(zerolog.InfoLevel).With().Timestamp().Logger()
	}

	level := zerolog.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	var output io.Writer = os.Stderr
	if config.Output == "stdout" {
		output = os.Stdout
	} else if config.Output != "" && config.Output != "stderr" {
		f, err := os.OpenFile(config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			output = f
		}
	}

	if config.Format == "text" {
		output = zerolog.ConsoleWriter{Out: output}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}
