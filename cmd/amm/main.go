package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cuemby/amm/pkg/amm"
	"github.com/cuemby/amm/pkg/config"
	"github.com/cuemby/amm/pkg/controlapi"
	"github.com/cuemby/amm/pkg/events"
	"github.com/cuemby/amm/pkg/log"
	"github.com/cuemby/amm/pkg/metrics"
	"github.com/cuemby/amm/pkg/policy"
	"github.com/cuemby/amm/pkg/rpc"
	"github.com/cuemby/amm/pkg/state"
	"github.com/cuemby/amm/pkg/worker"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
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
	Use:   "amm",
	Short: "Active memory manager - out-of-band replica placement for an in-memory task scheduler",
	Long: `amm runs the active memory manager loop that keeps task results at a safe
replication factor across a pool of workers: dropping redundant replicas to
free memory, replicating at-risk ones, and draining workers that are being
retired.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("amm version %s\nCommit: %s\n", Version, Commit))
	config.BindFlags(rootCmd)
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(retireCmd)

	retireCmd.Flags().Bool("close-workers", false, "ask each worker to shut itself down once drained")
	retireCmd.Flags().Bool("remove", true, "deregister the worker after it is drained")
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	if logLevel == "" {
		logLevel = "info"
	}
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

// buildPolicy constructs the named built-in policy from a config.PolicySpec.
// Only policies that make sense pre-registered at startup are listed here:
// RetireWorker is always installed dynamically by RetireWorkers against a
// specific worker address, never from static config.
func buildPolicy(spec config.PolicySpec) (policy.Policy, error) {
	switch spec.Name {
	case "ReduceReplicas":
		return policy.NewReduceReplicas(), nil
	default:
		return nil, fmt.Errorf("config: unknown policy %q", spec.Name)
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.PersistentFlags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	return config.ApplyFlags(cfg, cmd), nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the active memory manager, its control API, and its worker RPC listener",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		raftMgr, err := state.NewManager(state.Config{
			NodeID:   cfg.NodeID,
			BindAddr: cfg.BindAddr,
			DataDir:  cfg.DataDir,
		})
		if err != nil {
			return fmt.Errorf("failed to create state manager: %w", err)
		}
		if err := raftMgr.Bootstrap(); err != nil {
			return fmt.Errorf("failed to bootstrap raft: %w", err)
		}
		defer raftMgr.Shutdown()

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		gateway := rpc.NewGateway()
		defer gateway.Close()

		manager := amm.NewManager(raftMgr.Store(), gateway, broker, cfg.TickInterval)
		for _, spec := range cfg.Policies {
			p, err := buildPolicy(spec)
			if err != nil {
				return err
			}
			manager.AddPolicy(p)
		}

		workerSrv := worker.NewWorker(worker.Config{
			Address: cfg.WorkerAddr,
			Store:   raftMgr.Store(),
		})
		if err := workerSrv.Start(); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}

		rpcServer := rpc.NewServer(workerSrv)
		go func() {
			if err := rpcServer.Start(cfg.WorkerAddr); err != nil {
				log.Errorf("worker rpc server stopped", err)
			}
		}()
		defer rpcServer.Stop()

		controlServer := controlapi.NewServer(manager, raftMgr)
		go func() {
			if err := controlServer.Start(cfg.ControlAddr); err != nil {
				log.Errorf("control api server stopped", err)
			}
		}()
		defer controlServer.Stop()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("metrics server stopped", err)
			}
		}()
		defer metricsSrv.Close()

		if cfg.AutoStart {
			manager.Start()
		}

		log.Info(fmt.Sprintf("amm running: control=%s worker=%s metrics=%s", cfg.ControlAddr, cfg.WorkerAddr, cfg.MetricsAddr))

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		log.Info("shutting down")
		manager.Stop()
		workerSrv.Stop()
		return nil
	},
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Force a single tick against a running manager's control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		client, err := controlapi.NewClient(cfg.ControlAddr)
		if err != nil {
			return fmt.Errorf("failed to dial control api: %w", err)
		}
		defer client.Close()

		resp, err := client.RunOnce()
		if err != nil {
			return err
		}
		if resp.Skipped {
			fmt.Println("tick skipped: a tick was already running")
		} else {
			fmt.Println("tick complete")
		}
		return nil
	},
}

var retireCmd = &cobra.Command{
	Use:   "retire [worker-addr...]",
	Short: "Drain one or more workers and, by default, remove them from the worker set",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		closeWorkers, _ := cmd.Flags().GetBool("close-workers")
		remove, _ := cmd.Flags().GetBool("remove")

		client, err := controlapi.NewClient(cfg.ControlAddr)
		if err != nil {
			return fmt.Errorf("failed to dial control api: %w", err)
		}
		defer client.Close()

		resp, err := client.RetireWorkers(args, closeWorkers, remove)
		if err != nil {
			return err
		}
		fmt.Printf("retired: %v\n", resp.Retired)
		if len(resp.GaveUp) > 0 {
			fmt.Printf("gave up: %v\n", resp.GaveUp)
		}
		return nil
	},
}

var simulateCmd = &cobra.Command{
	Use:   "simulate [num-workers]",
	Short: "Run N in-memory workers against a running manager's state store for local testing",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		n := 3
		if len(args) == 1 {
			parsed, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid worker count %q: %w", args[0], err)
			}
			n = parsed
		}

		raftMgr, err := state.NewManager(state.Config{
			NodeID:   cfg.NodeID,
			BindAddr: cfg.BindAddr,
			DataDir:  cfg.DataDir,
		})
		if err != nil {
			return fmt.Errorf("failed to create state manager: %w", err)
		}
		if err := raftMgr.Bootstrap(); err != nil {
			return fmt.Errorf("failed to bootstrap raft: %w", err)
		}
		defer raftMgr.Shutdown()

		workers := make([]*worker.Worker, 0, n)
		for i := 0; i < n; i++ {
			addr := fmt.Sprintf("sim-worker-%d", i)
			w := worker.NewWorker(worker.Config{
				Address:           addr,
				Store:             raftMgr.Store(),
				MemoryLimit:       1 << 30,
				HeartbeatInterval: 2 * time.Second,
			})
			if err := w.Start(); err != nil {
				return fmt.Errorf("failed to start %s: %w", addr, err)
			}
			workers = append(workers, w)
		}

		fmt.Printf("simulating %d workers against %s, press ctrl-c to stop\n", n, cfg.DataDir)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		for _, w := range workers {
			w.Stop()
		}
		return nil
	},
}
