package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-curseforge-resolver/internal/api"
	"go-curseforge-resolver/internal/config"
	"go-curseforge-resolver/internal/models"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

// logLevel and logFormat hold the logging flags
var (
	logLevel  string
	logFormat string
)

// logApiFlag holds the value of the --log-api flag
var logApiFlag bool

// apiTimeoutFlag holds the value of the --api-timeout flag
var apiTimeoutFlag int

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport holds the HTTP transport shared by commands (base or logging-wrapped)
var globalHttpTransport http.RoundTripper

// errSilentExit makes Execute return 1 without printing anything more.
var errSilentExit = errors.New("exit status 1")

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "curseforge-resolver",
	Short: "Resolve CurseForge modpack files to download locations",
	Long: `curseforge-resolver reads a modpack manifest, asks the CurseForge API for
a direct download URL for every file, and walks you through downloading the
files CurseForge only serves through its website.`,
	PersistentPreRunE: loadGlobalConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	defer closeTransport()

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errSilentExit) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func closeTransport() {
	if loggingTransport, ok := globalHttpTransport.(*api.LoggingTransport); ok && loggingTransport != nil {
		log.Debug("Closing API logging transport file.")
		if err := loggingTransport.Close(); err != nil {
			log.WithError(err).Error("Error closing API log file")
		}
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Logging format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&logApiFlag, "log-api", false, "Log API requests/responses to api.log (overrides config)")
	rootCmd.PersistentFlags().IntVar(&apiTimeoutFlag, "api-timeout", -1, "Timeout for API HTTP client in seconds (overrides config, -1 uses config default)")
	rootCmd.PersistentFlags().String("api-key", "", "CurseForge API key (overrides config, also read from CFR_API_KEY)")

	viper.SetEnvPrefix("CFR")
	_ = viper.BindEnv("api_key")
	_ = viper.BindEnv("downloads_path")
	_ = viper.BindPFlag("api_key", rootCmd.PersistentFlags().Lookup("api-key"))
}

// initLogging configures logrus based on persistent flags
func initLogging() {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.WithError(err).Warnf("Invalid log level '%s', using default 'info'", logLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	switch logFormat {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		log.Warnf("Invalid log format '%s', using default 'text'", logFormat)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	log.Debugf("Logging configured: Level=%s, Format=%s", log.GetLevel(), logFormat)
}

// loadGlobalConfig loads the configuration, applies flag and environment
// overrides and sets up the shared HTTP transport.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	initLogging()

	var err error
	globalConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		// Commands check the fields they need; a missing file is not fatal here.
		log.WithError(err).Debugf("Failed to load configuration from %s, using defaults", cfgFile)
	}

	if key := viper.GetString("api_key"); key != "" {
		globalConfig.ApiKey = key
		log.Debug("Using API key from flag or environment")
	}
	if dir := viper.GetString("downloads_path"); dir != "" {
		globalConfig.DownloadsPath = dir
		log.Debugf("Using downloads directory from environment: %s", dir)
	}

	if cmd.Flags().Changed("log-api") {
		globalConfig.LogApiRequests = logApiFlag
		log.Debugf("Overriding LogApiRequests based on --log-api flag: %t", logApiFlag)
	}

	if cmd.Flags().Changed("api-timeout") {
		if apiTimeoutFlag > 0 {
			globalConfig.ApiClientTimeoutSec = apiTimeoutFlag
			log.Debugf("Overriding ApiClientTimeoutSec based on --api-timeout flag: %d sec", apiTimeoutFlag)
		} else {
			log.Warnf("--api-timeout flag provided with invalid value %d, using config value: %d sec", apiTimeoutFlag, globalConfig.ApiClientTimeoutSec)
		}
	}

	globalHttpTransport = http.DefaultTransport
	if globalConfig.LogApiRequests {
		logFilePath := "api.log"
		if globalConfig.PackRoot != "" {
			if _, statErr := os.Stat(globalConfig.PackRoot); statErr == nil {
				logFilePath = filepath.Join(globalConfig.PackRoot, logFilePath)
			} else {
				log.Warnf("PackRoot '%s' not found, saving api.log to current directory.", globalConfig.PackRoot)
			}
		}
		log.Infof("API logging to file: %s", logFilePath)

		loggingTransport, err := api.NewLoggingTransport(http.DefaultTransport, logFilePath)
		if err != nil {
			log.WithError(err).Error("Failed to initialize API logging transport, logging disabled.")
		} else {
			globalHttpTransport = loggingTransport
		}
	}
	return nil
}

// databasePath is the configured history DB, defaulting to the pack root.
func databasePath(cfg models.Config) string {
	if cfg.DatabasePath != "" {
		return cfg.DatabasePath
	}
	if cfg.PackRoot != "" {
		return filepath.Join(cfg.PackRoot, ".resolver", "history.db")
	}
	return ""
}

// indexPath is the configured Bleve index, defaulting to the pack root.
func indexPath(cfg models.Config) string {
	if cfg.BleveIndexPath != "" {
		return cfg.BleveIndexPath
	}
	if cfg.PackRoot != "" {
		return filepath.Join(cfg.PackRoot, ".resolver", "resolver.bleve")
	}
	return ""
}
