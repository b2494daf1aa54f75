package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/dgellow/ebo-bff/internal"
	"github.com/dgellow/ebo-bff/internal/config"
	"github.com/dgellow/ebo-bff/internal/log"
)

var BuildVersion = "dev"

func generateDefaultConfig(path string) error {
	defaultConfig := map[string]any{
		"version": "v0.0.1-DEV_EDITION_EXPECT_CHANGES",
		"server": map[string]any{
			"baseURL":   "https://trips.yourclub.org",
			"addr":      ":8080",
			"staticDir": "./public",
		},
		"providers": map[string]any{
			"google": map[string]any{
				"clientId":     map[string]string{"$env": "GOOGLE_CLIENT_ID"},
				"clientSecret": map[string]string{"$env": "GOOGLE_CLIENT_SECRET"},
			},
			"apple": map[string]any{
				"clientId":   map[string]string{"$env": "APPLE_CLIENT_ID"},
				"teamId":     map[string]string{"$env": "APPLE_TEAM_ID"},
				"keyId":      map[string]string{"$env": "APPLE_KEY_ID"},
				"privateKey": map[string]string{"$env": "APPLE_PRIVATE_KEY_P8"},
			},
		},
		"authgenie": map[string]any{
			"baseURL":      "https://authgenie.yourclub.org",
			"clientId":     map[string]string{"$env": "AUTHGENIE_CLIENT_ID"},
			"clientSecret": map[string]string{"$env": "AUTHGENIE_CLIENT_SECRET"},
			"audience":     "planner",
		},
		"planner": map[string]any{
			"baseURL": "https://planner.yourclub.org",
			"timeout": "15s",
		},
		"sessions": map[string]any{
			"storage": "memory",
			"ttl":     "720h",
		},
	}

	data, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func validateConfig(path string) error {
	result, err := config.ValidateFile(path)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}

	fmt.Printf("Validating: %s\n", path)

	printIssues := func(title string, issues []config.ValidationError) {
		if len(issues) == 0 {
			return
		}
		fmt.Printf("\n%s (%d):\n", title, len(issues))
		for _, issue := range issues {
			if issue.Path != "" {
				fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
			} else {
				fmt.Printf("  - %s\n", issue.Message)
			}
		}
	}
	printIssues("Errors", result.Errors)
	printIssues("Warnings", result.Warnings)

	fmt.Println()
	switch {
	case len(result.Errors) == 0 && len(result.Warnings) == 0:
		fmt.Println("Result: PASS")
	case len(result.Errors) == 0:
		fmt.Println("Result: PASS (with warnings)")
	default:
		fmt.Println("Result: FAIL")
	}

	if !result.IsValid() {
		return fmt.Errorf("validation failed: %d error(s)", len(result.Errors))
	}
	return nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.LoadFromEnv(nil)
	}
	return config.Load(path)
}

func main() {
	conf := flag.String("config", "", "path to config file (reads environment variables when omitted)")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *configInit != "" {
		if err := generateDefaultConfig(*configInit); err != nil {
			log.LogError("Failed to generate config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default config at: %s\n", *configInit)
		return
	}

	if *validate {
		if *conf == "" {
			fmt.Fprintf(os.Stderr, "Error: -config flag is required for validation\n")
			os.Exit(1)
		}
		if err := validateConfig(*conf); err != nil {
			os.Exit(1)
		}
		return
	}

	cfg, err := loadConfig(*conf)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}

	if cfg.Logging.Level != "" || cfg.Logging.Format != "" {
		if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format); err != nil {
			log.LogError("Invalid logging config: %v", err)
			os.Exit(1)
		}
	}

	log.LogInfoWithFields("main", "Starting ebo-bff", map[string]any{
		"version": BuildVersion,
		"config":  *conf,
	})

	ctx := context.Background()
	bff, err := internal.NewBFF(ctx, cfg)
	if err != nil {
		log.LogError("Failed to create BFF: %v", err)
		os.Exit(1)
	}

	if err := bff.Run(); err != nil {
		log.LogError("Server error: %v", err)
		os.Exit(1)
	}
}
