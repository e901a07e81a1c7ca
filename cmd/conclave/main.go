// ABOUTME: Entry point for the conclave orchestration engine
// ABOUTME: Serves the engine and offers config checks, API token minting and health probes

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/coven-conclave/internal/ability"
	"github.com/2389/coven-conclave/internal/auth"
	"github.com/2389/coven-conclave/internal/config"
	"github.com/2389/coven-conclave/internal/engine"
	"github.com/2389/coven-conclave/internal/roster"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                        _
  ___ ___  _ __   ___| | __ ___   _____
 / __/ _ \| '_ \ / __| |/ _' \ \ / / _ \
| (_| (_) | | | | (__| | (_| |\ V /  __/
 \___\___/|_| |_|\___|_|\__,_| \_/ \___|
`

const defaultTokenTTL = 30 * 24 * time.Hour

// getConfigPath returns the path to the engine config file.
// Priority: CONCLAVE_CONFIG env var > XDG_CONFIG_HOME/conclave/conclave.yaml > ~/.config/conclave/conclave.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CONCLAVE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "conclave.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "conclave", "conclave.yaml")
}

func usage() {
	fmt.Println("Usage: conclave <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                                  Start the engine")
	fmt.Println("  check                                  Validate config and roster")
	fmt.Println("  token --subject ID [--operator] [--ttl] Mint an API token")
	fmt.Println("  health                                 Check engine health")
	fmt.Println("  agents                                 Show engine readiness")
	fmt.Println("  version                                Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// a missing .env is fine; the environment may already be set
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "check":
		err = runCheck()
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runProbe(ctx, "/health")
	case "agents":
		err = runProbe(ctx, "/ready")
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Roster:    %s\n", cfg.Roster.Path)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Matrix:    %s\n", cfg.Matrix.Homeserver)
	if cfg.Auth.JWTSecret == "" {
		yellow.Print("    ! ")
		fmt.Println("API:       disabled (auth.jwt_secret not set)")
	}
	fmt.Println()

	logger.Info("starting conclave",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"version", version,
	)

	e, err := engine.NewFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	return e.Run(ctx)
}

func runCheck() error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	r, err := roster.Load(cfg.Roster.Path, ability.DefaultCatalog())
	if err != nil {
		return fmt.Errorf("loading roster: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("config %s\n", configPath)
	green.Print("✓ ")
	fmt.Printf("roster %s (%d agents)\n", cfg.Roster.Path, len(r.Agents))
	if _, ok := r.Observer(); !ok {
		color.New(color.FgYellow).Print("! ")
		fmt.Println("no observer: chat commands and notifications are disabled")
	}
	return nil
}

func runToken(args []string) error {
	// Supports both "--flag value" and "--flag=value" formats
	var (
		subject  string
		operator bool
		ttl      = defaultTokenTTL
	)
	value := func(i *int, name string) (string, error) {
		arg := args[*i]
		if v, ok := strings.CutPrefix(arg, name+"="); ok {
			return v, nil
		}
		if *i+1 >= len(args) {
			return "", fmt.Errorf("%s requires a value", name)
		}
		*i++
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--subject" || strings.HasPrefix(arg, "--subject="):
			v, err := value(&i, "--subject")
			if err != nil {
				return err
			}
			subject = strings.TrimSpace(v)
		case arg == "--ttl" || strings.HasPrefix(arg, "--ttl="):
			v, err := value(&i, "--ttl")
			if err != nil {
				return err
			}
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				return fmt.Errorf("invalid --ttl %q", v)
			}
			ttl = d
		case arg == "--operator":
			operator = true
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	if subject == "" {
		return fmt.Errorf("--subject flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not set")
	}

	var scopes []string
	if operator {
		scopes = append(scopes, auth.ScopeOperator)
	}
	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(subject, ttl, scopes...)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runProbe(ctx context.Context, path string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}
