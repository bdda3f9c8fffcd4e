package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/claudeswitch/claudeswitch/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the proxy configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for provider details.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("%s configuration setup", AppName)
	color.Yellow("Follow the prompts to configure your backends.")

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("\nProvider name (anthropic, openai, openrouter, gemini): ")
	providerName, _ := reader.ReadString('\n')
	providerName = strings.TrimSpace(providerName)

	fmt.Print("API key (leave empty to read from an environment variable): ")
	apiKey, _ := reader.ReadString('\n')
	apiKey = strings.TrimSpace(apiKey)

	var apiKeyEnv string
	if apiKey == "" {
		fmt.Print("API key environment variable: ")
		apiKeyEnv, _ = reader.ReadString('\n')
		apiKeyEnv = strings.TrimSpace(apiKeyEnv)
	}

	fmt.Print("API base URL (empty for the provider default): ")
	baseURL, _ := reader.ReadString('\n')
	baseURL = strings.TrimSpace(baseURL)

	fmt.Print("Default model: ")
	model, _ := reader.ReadString('\n')
	model = strings.TrimSpace(model)

	fmt.Print("Proxy API key (optional, for inbound authentication): ")
	proxyAPIKey, _ := reader.ReadString('\n')
	proxyAPIKey = strings.TrimSpace(proxyAPIKey)

	cfg := &config.Config{
		Host:   config.DefaultHost,
		Port:   config.DefaultPort,
		APIKey: proxyAPIKey,
		Providers: []config.Provider{
			{
				Name:      providerName,
				APIBase:   baseURL,
				APIKey:    apiKey,
				APIKeyEnv: apiKeyEnv,
				Models:    []string{model},
			},
		},
		Router: config.Router{
			Default: fmt.Sprintf("%s,%s", providerName, model),
		},
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved to: %s", cfgMgr.GetPath())
	color.Cyan("You can now start the proxy with: csw start")

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run 'csw config init' to create one.")
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current configuration:")
	fmt.Printf("  %-15s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-15s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-15s: %s\n", "API Key", maskString(cfg.APIKey))
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())
	if cfg.Audit.Enabled {
		fmt.Printf("  %-15s: %s\n", "Audit Trail", cfg.Audit.Path)
	}

	fmt.Println("\nProviders:")
	for _, provider := range cfg.Providers {
		fmt.Printf("  - Name: %s\n", provider.Name)
		if provider.APIBase != "" {
			fmt.Printf("    API Base: %s\n", provider.APIBase)
		}
		if provider.APIKeyEnv != "" {
			fmt.Printf("    API Key Env: %s\n", provider.APIKeyEnv)
		} else {
			fmt.Printf("    API Key: %s\n", maskString(provider.APIKey))
		}
		fmt.Printf("    Models: %v\n", provider.Models)
		fmt.Println()
	}

	fmt.Println("Router:")
	fmt.Printf("  %-15s: %s\n", "Default", cfg.Router.Default)
	if cfg.Router.Think != "" {
		fmt.Printf("  %-15s: %s\n", "Think", cfg.Router.Think)
	}
	if cfg.Router.Background != "" {
		fmt.Printf("  %-15s: %s\n", "Background", cfg.Router.Background)
	}
	if cfg.Router.LongContext != "" {
		fmt.Printf("  %-15s: %s\n", "Long Context", cfg.Router.LongContext)
	}

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return fmt.Errorf("no configuration found")
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var problems []string

	if len(cfg.Providers) == 0 {
		problems = append(problems, "no providers configured")
	}

	for i, provider := range cfg.Providers {
		if provider.Name == "" {
			problems = append(problems, fmt.Sprintf("provider %d: name is required", i))
		}
		if provider.APIKey == "" && provider.APIKeyEnv == "" {
			problems = append(problems, fmt.Sprintf("provider %d: api_key or api_key_env is required", i))
		}
		if provider.APIKeyEnv != "" && os.Getenv(provider.APIKeyEnv) == "" {
			problems = append(problems, fmt.Sprintf("provider %d: environment variable %s is not set", i, provider.APIKeyEnv))
		}
	}

	if cfg.Router.Default == "" {
		problems = append(problems, "default route is required")
	}
	for _, ref := range []string{cfg.Router.Default, cfg.Router.Think, cfg.Router.Background, cfg.Router.LongContext} {
		if ref == "" {
			continue
		}
		providerName, _ := config.SplitModelRef(ref)
		if providerName == "" {
			continue
		}
		if _, ok := cfg.Provider(providerName); !ok {
			problems = append(problems, fmt.Sprintf("route %q names an unconfigured provider", ref))
		}
	}

	if len(problems) > 0 {
		color.Red("Configuration validation failed:")
		for _, problem := range problems {
			fmt.Printf("  - %s\n", problem)
		}
		return fmt.Errorf("configuration validation failed")
	}

	color.Green("Configuration is valid!")
	return nil
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
