package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/concentra-io/concentra/internal/advisory"
	"github.com/concentra-io/concentra/internal/api"
	"github.com/concentra-io/concentra/internal/config"
	"github.com/concentra-io/concentra/internal/pipeline"
	"github.com/concentra-io/concentra/internal/registry"
	"github.com/concentra-io/concentra/internal/util"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var appConfig *config.Config

var rootCmd = &cobra.Command{
	Use:   "concentra",
	Short: "Concentra ingests tabular data and computes entity concentration.",
	Long:  `Concentra normalizes uploaded spreadsheets and CSVs and computes ranked concentration breakdowns per period.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to load .env file", "error", err)
		}

		configPath, _ := cmd.Flags().GetString("config")
		loadedCfg, err := config.Load(configPath, config.DefaultCueSchemaPath)
		if err != nil {
			var unknownFieldErr *config.ErrUnknownField
			if errors.As(err, &unknownFieldErr) {
				util.LogError(util.Logger, util.WrapError(err, "configuration contains unknown fields"))
				os.Exit(78)
			}
			util.LogError(util.Logger, util.WrapError(err, "failed to load configuration"))
			os.Exit(1)
		}
		appConfig = loadedCfg
		slog.Info("configuration loaded", "datasets_path", appConfig.Datasets.Path)
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		slog.Info("Concentra - use -h for available commands")
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default concentra.yml configuration file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("file")
		if err := config.WriteDefaultConfig(configPath); err != nil {
			util.LogError(util.Logger, util.WrapError(err, "failed to write default config"))
			return err
		}
		slog.Info("default configuration written", "path", configPath)
		return nil
	},
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the Concentra HTTP API server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if appConfig == nil {
			return util.NewError("configuration not loaded before server command")
		}

		reg, err := registry.New(appConfig.Datasets.Path)
		if err != nil {
			return util.WrapError(err, "failed to open dataset registry")
		}
		defer reg.Close()

		advisor, err := buildAdvisor(appConfig, reg)
		if err != nil {
			return util.WrapError(err, "failed to initialize advisory provider")
		}

		ctrl := pipeline.NewController(reg, advisor, appConfig)
		server := api.NewServer(appConfig, ctrl)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			slog.Info("shutdown signal received")
			cancel()
		}()

		if err := server.Start(ctx); err != nil {
			return util.WrapError(err, "server failed")
		}
		slog.Info("server stopped")
		return nil
	},
}

// buildAdvisor constructs the advisory provider named by LLM.Provider. A
// disabled or misconfigured provider still returns a working Advisor
// (nil Provider), since every Enrich call degrades to a placeholder
// artifact rather than failing the request.
func buildAdvisor(cfg *config.Config, reg *registry.Registry) (*advisory.Advisor, error) {
	timeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second

	if !cfg.LLM.Enabled {
		return advisory.NewAdvisor(nil, reg, timeout, cfg.LLM.CallBudget), nil
	}

	apiKey := os.Getenv(cfg.LLM.APIKeyEnv)
	if apiKey == "" {
		slog.Warn("LLM enabled but API key env var is empty; advisory enrichment will produce placeholders", "env_var", cfg.LLM.APIKeyEnv)
		return advisory.NewAdvisor(nil, reg, timeout, cfg.LLM.CallBudget), nil
	}

	model := cfg.LLM.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	switch cfg.LLM.Provider {
	case "openai", "":
		provider, err := advisory.NewOpenAIAdvisor(advisory.OpenAIAdvisorConfig{
			APIKey: apiKey,
			Model:  model,
		})
		if err != nil {
			return nil, err
		}
		return advisory.NewAdvisor(provider, reg, timeout, cfg.LLM.CallBudget), nil
	default:
		slog.Warn("unsupported LLM provider configured; advisory enrichment disabled", "provider", cfg.LLM.Provider)
		return advisory.NewAdvisor(nil, reg, timeout, cfg.LLM.CallBudget), nil
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information.",
	Run: func(cmd *cobra.Command, args []string) {
		slog.Info("concentra version", "version", version, "commit", commit, "built", date, "go", runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionCmd)
	initCmd.Flags().StringP("file", "f", config.DefaultConfigPath, "path to write the configuration file")
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "path to the configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		util.LogError(util.Logger, util.WrapError(err, "command execution failed"))
		os.Exit(1)
	}
}
