package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/inputlayer/inputlayer/internal/config"
	"github.com/inputlayer/inputlayer/internal/engine"
	"github.com/inputlayer/inputlayer/internal/logx"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "inputlayer-engine",
	Short:   "InputLayer - single-node Datalog database engine",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"inputlayer-engine version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(statusCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	logx.Init(logx.Config{Level: logx.Level(level), JSONOutput: jsonOut})
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func openEngine(cmd *cobra.Command) (*engine.Engine, config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, cfg, err
	}
	e, err := engine.Open(cfg.Storage.DataDir, cfg.Storage.DefaultKG, cfg)
	return e, cfg, err
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open the default knowledge graph and serve metrics until interrupted",
	Long: `serve opens the knowledge graph named by storage.default_kg,
republishes its initial snapshot, and exposes Prometheus metrics over
HTTP. InputLayer's query and write surface is an in-process Go API
(pkg/ast/pkg/result); serve exists to keep a durable engine instance
alive and observable, not to front a wire protocol.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		e, cfg, err := openEngine(cmd)
		if err != nil {
			return fmt.Errorf("failed to open engine: %w", err)
		}
		defer e.Close()

		logx.WithComponent("engine").Info().
			Str("kg", cfg.Storage.DefaultKG).
			Str("data_dir", cfg.Storage.DataDir).
			Msg("knowledge graph ready")

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		errCh := make(chan error, 1)
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
		fmt.Printf("Metrics endpoint: http://%s/metrics\n", metricsAddr)
		fmt.Println("Engine is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\n%v\n", err)
		}

		if err := e.SaveCatalog(); err != nil {
			return fmt.Errorf("failed to save catalog on shutdown: %w", err)
		}
		fmt.Println("Shutdown complete")
		return nil
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact [relation]",
	Short: "Force compaction of one relation, or every relation",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		relation := ""
		if len(args) == 1 {
			relation = args[0]
		}

		e, _, err := openEngine(cmd)
		if err != nil {
			return fmt.Errorf("failed to open engine: %w", err)
		}
		defer e.Close()

		if err := e.Compact(relation); err != nil {
			return fmt.Errorf("compaction failed: %w", err)
		}
		if relation == "" {
			fmt.Println("Compacted all relations")
		} else {
			fmt.Printf("Compacted relation %q\n", relation)
		}
		return nil
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Replay the WAL and persisted batches, then report recovered counts",
	Long: `recover opens the knowledge graph exactly as serve would
(replaying the write-ahead log and rebuilding every view) and then
exits, reporting what it found. Use it after a crash to confirm the
engine recovers cleanly before starting serve.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cfg, err := openEngine(cmd)
		if err != nil {
			return fmt.Errorf("recovery failed: %w", err)
		}
		defer e.Close()

		st := e.Status()
		fmt.Printf("Recovered knowledge graph %q\n", cfg.Storage.DefaultKG)
		fmt.Printf("  Relations: %d (%d views)\n", st.RelationCount, st.ViewCount)
		fmt.Printf("  Indexes:   %d\n", st.IndexCount)
		fmt.Printf("  Snapshot time: %d\n", st.SnapshotTime)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current knowledge graph's counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cfg, err := openEngine(cmd)
		if err != nil {
			return fmt.Errorf("failed to open engine: %w", err)
		}
		defer e.Close()

		st := e.Status()
		fmt.Printf("Knowledge graph: %s\n", cfg.Storage.DefaultKG)
		fmt.Printf("  Relations:     %d\n", st.RelationCount)
		fmt.Printf("  Views:         %d\n", st.ViewCount)
		fmt.Printf("  Indexes:       %d\n", st.IndexCount)
		fmt.Printf("  Snapshot time: %d\n", st.SnapshotTime)
		fmt.Printf("  Checked at:    %s\n", st.CheckedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

func init() {
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the Prometheus metrics endpoint")
}
