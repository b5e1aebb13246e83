// Package serve implements the serve subcommand: it builds the state tree
// from a TOML manifest and runs the server until interrupted.
package serve

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	cmdUtil "github.com/Jackmin801/torch-state-server/cmd/util"
	"github.com/Jackmin801/torch-state-server/rpc/common"
	"github.com/Jackmin801/torch-state-server/rpc/server"
	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	manifestPath   string
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the state server",
		Long:    `Start the state server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is TSS_<flag> (e.g. TSS_ENDPOINT=0.0.0.0:12345)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:12345", cmdUtil.WrapString("The address on which the state server will listen"))

	key = "manifest"
	ServeCmd.PersistentFlags().String(key, "state.toml", cmdUtil.WrapString("Path to the TOML manifest describing the state tree to serve"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 30, cmdUtil.WrapString("Per-connection socket timeout in seconds (0 disables)"))

	key = "grace-timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("How long to wait for in-flight requests on shutdown before force-closing them (in seconds)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Optional address to expose Prometheus metrics on (e.g. 0.0.0.0:9090, empty disables)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.GraceTimeoutSecond = viper.GetInt64("grace-timeout")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	manifestPath = viper.GetString("manifest")

	return nil
}

// run starts the state server and blocks until SIGINT/SIGTERM
func run(_ *cobra.Command, _ []string) error {
	common.InitLoggers(*serveCmdConfig)

	store, err := LoadManifest(manifestPath)
	if err != nil {
		return err
	}

	srv := server.NewStateServer(store, *serveCmdConfig)
	if err := srv.Start(); err != nil {
		return err
	}

	fmt.Println(serveCmdConfig.String())

	// Optionally expose the server's counters for scraping.
	if serveCmdConfig.MetricsEndpoint != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			metrics.WritePrometheus(w, true)
		})
		go func() {
			if err := http.ListenAndServe(serveCmdConfig.MetricsEndpoint, mux); err != nil {
				fmt.Fprintf(os.Stderr, "metrics endpoint failed: %v\n", err)
			}
		}()
	}

	// Wait for a termination signal, then shut down gracefully.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	return srv.Stop()
}
