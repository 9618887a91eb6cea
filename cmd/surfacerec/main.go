package main

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/surfacerec/internal/capture"
	"github.com/breeze-rmm/surfacerec/internal/config"
	"github.com/breeze-rmm/surfacerec/internal/logging"
)

var (
	cfgFile  string
	logLevel string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:           "surfacerec",
	Short:         "Record drawing surfaces to video",
	Long:          `surfacerec - capture a live drawing surface, encode it with ffmpeg, and deliver the recording to disk or object storage`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("surfacerec v%s (%s/%s)\n", capture.Version, runtime.GOOS, runtime.GOARCH)
		if info, err := host.Info(); err == nil {
			fmt.Printf("Host: %s %s %s\n", info.Platform, info.PlatformVersion, info.KernelArch)
		}
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg.ValidateTiered()
		redact(&cfg.Sink.SecretAccessKey)
		redact(&cfg.Sink.ConnectionString)
		redact(&cfg.Sink.ApplicationKey)
		return writeYAML(os.Stdout, cfg)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.SaveTo(config.Default(), cfgFile)
		if err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is surfacerec.yaml in the user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(formatsCmd)
	rootCmd.AddCommand(surfacesCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

func redact(s *string) {
	if *s != "" {
		*s = "********"
	}
}

// loadConfig reads and validates the config and initializes logging. The
// returned func closes the log file, if any.
func loadConfig() (*config.Config, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	closeLog := func() {}
	var out io.Writer
	if cfg.LogFile != "" {
		rf, err := logging.OpenRotatingFile(cfg.LogFile, 0, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, rf)
		closeLog = func() { rf.Close() }
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, out)

	if res := cfg.ValidateTiered(); res.HasFatals() {
		closeLog()
		for _, err := range res.Fatals {
			log.Error("invalid config", logging.KeyError, err)
		}
		return nil, nil, fmt.Errorf("config has %d fatal problem(s): %w", len(res.Fatals), res.Fatals[0])
	}
	return cfg, closeLog, nil
}
