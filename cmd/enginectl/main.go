package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/cuemby/blockengine/pkg/config"
	"github.com/cuemby/blockengine/pkg/host"
	"github.com/cuemby/blockengine/pkg/log"
	"github.com/cuemby/blockengine/pkg/metrics"
	"github.com/cuemby/blockengine/pkg/snapshot"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "enginectl",
	Short:   "Drive a simulated database storage-engine dataflow graph",
	Long:    `enginectl wires blocks and connections into a pipeline, runs a generated workload through it, and reports per-block metrics — a thin CLI demonstration of pkg/host.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("enginectl version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML runtime config file")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(serveMetricsCmd)

	serveMetricsCmd.Flags().String("addr", "127.0.0.1:9090", "Address to serve /metrics on")
}

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Start the Prometheus metrics and health-check HTTP exporter",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		metrics.SetVersion(Version)
		http.Handle("/metrics", metrics.Handler())
		http.Handle("/health", metrics.HealthHandler())
		http.Handle("/ready", metrics.ReadyHandler())
		http.Handle("/live", metrics.LivenessHandler())
		fmt.Printf("Metrics endpoint:  http://%s/metrics\n", addr)
		fmt.Printf("Health endpoints:  http://%s/health, /ready, /live\n", addr)
		return http.ListenAndServe(addr, nil)
	},
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}

func loadRuntimeConfig(cmd *cobra.Command) config.RuntimeConfig {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using defaults\n", err)
		return config.Default()
	}
	return cfg
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List every constructible block type",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt := host.InitRuntime()
		fmt.Println(rt.GetBlockTypes())
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run BLOCKS_JSON CONNECTIONS_JSON WORKLOAD_JSON",
	Short: "Register blocks, wire connections, and execute a workload",
	Long: `Reads three JSON files: a list of block configs, a list of
connection configs, and a workload request, then registers, connects,
validates, and executes the pipeline, printing the execution response.

Example:
  enginectl run blocks.json connections.json workload.json`,
	Args: cobra.ExactArgs(3),
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().String("snapshot-dir", "", "Directory to persist block state snapshots after execution")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg := loadRuntimeConfig(cmd)

	blocksJSON, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read blocks file: %w", err)
	}
	connectionsJSON, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("read connections file: %w", err)
	}
	workloadJSON, err := os.ReadFile(args[2])
	if err != nil {
		return fmt.Errorf("read workload file: %w", err)
	}

	rt := host.InitRuntime()
	defer rt.DestroyRuntime()

	if err := registerAllBlocks(rt, blocksJSON); err != nil {
		return err
	}
	if err := createAllConnections(rt, connectionsJSON); err != nil {
		return err
	}

	fmt.Println("Validating pipeline...")
	fmt.Println(rt.Validate())

	fmt.Println("Executing workload...")
	result := rt.Execute(string(workloadJSON), func(eventJSON string) {
		fmt.Printf("  %s\n", eventJSON)
	})
	fmt.Println(result)

	snapDir, _ := cmd.Flags().GetString("snapshot-dir")
	if snapDir == "" {
		snapDir = cfg.DataDir
	}
	if snapDir != "" {
		if err := persistSnapshots(rt, snapDir); err != nil {
			return fmt.Errorf("persist snapshots: %w", err)
		}
		fmt.Printf("Block state snapshots written to %s\n", snapDir)
	}

	return nil
}

func persistSnapshots(rt *host.Runtime, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	store, err := snapshot.Open(dir)
	if err != nil {
		return err
	}
	defer store.Close()
	return rt.SnapshotAll(store)
}
