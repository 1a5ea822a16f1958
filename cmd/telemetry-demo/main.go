// Command telemetry-demo is a small operator-facing CLI around the ingest
// client: point it at a config file, and it either sends one event and
// exits, or sends a trace and reports the client's health once.
//
// Grounded on registry/root.go and registry/registry.go's
// configureLogging: cobra command tree, a --config flag resolved against a
// yaml file, and a logrus formatter chosen by name (including the
// logstash formatter).
package main

import (
	"fmt"
	"os"
	"time"

	logstash "github.com/bshuster-repo/logrus-logstash-hook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/distribution/ingest"
	"github.com/distribution/ingest/contracts"
	"github.com/distribution/ingest/version"
)

var (
	configPath   string
	logFormatter string
)

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// RootCmd is the main command for the telemetry-demo binary.
var RootCmd = &cobra.Command{
	Use:   "telemetry-demo",
	Short: "`telemetry-demo` is a manual exercise harness for the ingest client",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a yaml config file (required by send-event and health)")
	RootCmd.PersistentFlags().StringVar(&logFormatter, "log-formatter", "text", "text, json, or logstash")

	RootCmd.AddCommand(sendEventCmd)
	RootCmd.AddCommand(healthCmd)
	RootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:                   "version",
	Short:                 "print the telemetry-demo version",
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		version.FprintVersion(os.Stdout)
		return nil
	},
}

func configureLogging() error {
	switch logFormatter {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339Nano})
	case "logstash":
		logrus.SetFormatter(&logstash.LogstashFormatter{
			Formatter: &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano},
		})
	default:
		return fmt.Errorf("unsupported logging formatter: %q", logFormatter)
	}
	return nil
}

func loadClient() (*ingest.Client, error) {
	if configPath == "" {
		return nil, fmt.Errorf("--config is required")
	}
	if err := configureLogging(); err != nil {
		return nil, err
	}

	f, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	cfg, err := ingest.Parse(f)
	if err != nil {
		return nil, err
	}

	return ingest.NewClient(cfg)
}

var sendEventCmd = &cobra.Command{
	Use:   "send-event <name>",
	Short: "send a single event and flush before exiting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := loadClient()
		if err != nil {
			return err
		}

		client.TrackEvent(args[0], map[string]string{"source": "telemetry-demo"}, nil)
		client.Flush()
		client.Close()
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "send a trace and report the client's health after a brief wait",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := loadClient()
		if err != nil {
			return err
		}
		defer client.Close()

		client.TrackTrace("telemetry-demo health probe", contracts.SeverityInformation, nil)
		client.Flush()
		time.Sleep(2 * time.Second)

		if err := client.Health().Check(cmd.Context()); err != nil {
			fmt.Printf("unhealthy: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("healthy")
		return nil
	},
}
