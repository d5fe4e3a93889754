package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tmesim/internal/persistence/indexdb"
	persistlog "tmesim/internal/persistence/log"
	"tmesim/internal/persistence/snapshot"
	"tmesim/internal/sim/engine"
	"tmesim/internal/sim/popspec"
	"tmesim/internal/sim/tuning"
	"tmesim/internal/transport/observer"
)

var version = "dev"

func main() {
	logger := log.New(os.Stdout, "[tmesim] ", log.LstdFlags|log.Lmicroseconds)

	root := &cobra.Command{
		Use:          "tmesim",
		Short:        "Deterministic tumor microenvironment simulation engine",
		SilenceUsage: true,
	}
	root.AddCommand(runCmd(logger), validateCmd(logger), replayCmd(logger), versionCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd(logger *log.Logger) *cobra.Command {
	var (
		addr       string
		runID      string
		seed       uint64
		tuningPath string
		popPath    string
		dataDir    string
		maxTicks   uint64
		nTumor     int
		nTCell     int
		disableDB  bool
		snapPath   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(tuningPath, logger)
			if err != nil {
				return err
			}
			cfg.ID = runID
			cfg.Seed = seed

			var eng *engine.Engine
			if snapPath != "" {
				snap, err := snapshot.Read(snapPath)
				if err != nil {
					return fmt.Errorf("read snapshot: %w", err)
				}
				eng, err = engine.Restore(snap)
				if err != nil {
					return fmt.Errorf("restore: %w", err)
				}
				logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapPath), eng.CurrentTick())
			} else {
				initial, fieldUniform, err := loadPopulation(popPath, cfg, nTumor, nTCell)
				if err != nil {
					return err
				}
				eng, err = engine.New(cfg, initial)
				if err != nil {
					return err
				}
				for sp, conc := range fieldUniform {
					eng.Field().SetUniform(sp, conc)
				}
			}

			runDir := filepath.Join(dataDir, "runs", runID)
			if err := os.MkdirAll(runDir, 0o755); err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			tickLog := persistlog.NewTickLogger(runDir)
			defer tickLog.Close()

			var idx *indexdb.SQLiteIndex
			if !disableDB {
				idx, err = indexdb.OpenSQLite(filepath.Join(runDir, "index.db"))
				if err != nil {
					return fmt.Errorf("open index: %w", err)
				}
				defer idx.Close()
			}
			eng.SetTickLogger(multiTickLogger{a: tickLog, b: idx})

			snapCh := make(chan engine.Snapshot, 2)
			eng.SetSnapshotSink(snapCh)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case snap := <-snapCh:
						path := snapshot.PathFor(runDir, snap.Tick)
						if err := snapshot.Write(path, snap); err != nil {
							logger.Printf("snapshot write: %v", err)
							continue
						}
						if idx != nil {
							idx.RecordSnapshot(path, snap)
						}
					}
				}
			}()

			obs := observer.NewServer(eng, logger)
			eng.SetStepTimer(obs.ObserveStepDuration)
			srv := &http.Server{
				Addr:              addr,
				Handler:           obs.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				<-ctx.Done()
				ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel2()
				_ = srv.Shutdown(ctx2)
			}()
			go func() {
				logger.Printf("observer listening on %s", addr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Printf("ListenAndServe: %v", err)
				}
			}()

			start := time.Now()
			err = eng.Run(ctx, maxTicks, engine.Extinct)
			if err != nil && err != context.Canceled {
				return err
			}
			logger.Printf("stopped at tick=%d after %s, populations=%v",
				eng.CurrentTick(), time.Since(start).Round(time.Millisecond), eng.Populations())
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "observer http listen address")
	cmd.Flags().StringVar(&runID, "run", "run_1", "run id")
	cmd.Flags().Uint64Var(&seed, "seed", 1337, "run seed")
	cmd.Flags().StringVar(&tuningPath, "tuning", "./configs/tuning.yaml", "path to tuning.yaml")
	cmd.Flags().StringVar(&popPath, "population", "", "path to population json (default: random seeding)")
	cmd.Flags().StringVar(&dataDir, "data", "./data", "runtime data directory")
	cmd.Flags().Uint64Var(&maxTicks, "ticks", 0, "stop after this many ticks (0 = run until extinction)")
	cmd.Flags().IntVar(&nTumor, "tumor", 120, "tumor cell count for random seeding")
	cmd.Flags().IntVar(&nTCell, "tcell", 30, "t cell count for random seeding")
	cmd.Flags().BoolVar(&disableDB, "disable-db", false, "disable the sqlite index")
	cmd.Flags().StringVar(&snapPath, "snapshot", "", "resume from a snapshot file")
	return cmd
}

func validateCmd(logger *log.Logger) *cobra.Command {
	var (
		tuningPath string
		popPath    string
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate tuning and population files without running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(tuningPath, logger)
			if err != nil {
				return err
			}
			if _, err := engine.New(cfg, nil); err != nil {
				return err
			}
			logger.Printf("tuning ok: %s", tuningPath)
			if popPath != "" {
				doc, err := popspec.Load(popPath)
				if err != nil {
					return err
				}
				if _, err := engine.New(cfg, doc.Agents); err != nil {
					return err
				}
				logger.Printf("population ok: %s (%d agents)", popPath, len(doc.Agents))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tuningPath, "tuning", "./configs/tuning.yaml", "path to tuning.yaml")
	cmd.Flags().StringVar(&popPath, "population", "", "path to population json")
	return cmd
}

func replayCmd(logger *log.Logger) *cobra.Command {
	var (
		snapPath string
		ticks    uint64
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Restore a snapshot and step it, printing per-tick digests",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := snapshot.Read(snapPath)
			if err != nil {
				return err
			}
			eng, err := engine.Restore(snap)
			if err != nil {
				return err
			}
			logger.Printf("restored run=%s tick=%d agents=%d", snap.RunID, snap.Tick, len(snap.Agents))
			for i := uint64(0); i < ticks; i++ {
				tick, digest, err := eng.StepOnce()
				if err != nil {
					return err
				}
				fmt.Printf("%d %s\n", tick, digest)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&snapPath, "snapshot", "", "snapshot file to replay")
	cmd.Flags().Uint64Var(&ticks, "ticks", 10, "ticks to step")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func loadConfig(path string, logger *log.Logger) (engine.Config, error) {
	cfg, err := tuning.Load(path)
	if err != nil {
		if os.IsNotExist(err) && strings.HasSuffix(path, "configs/tuning.yaml") {
			logger.Printf("tuning not found (%s); using defaults", path)
			return engine.Config{}, nil
		}
		return cfg, fmt.Errorf("load tuning: %w", err)
	}
	return cfg, nil
}

func loadPopulation(popPath string, cfg engine.Config, nTumor, nTCell int) ([]engine.InitialAgent, map[string]float64, error) {
	if popPath == "" {
		return engine.DefaultPopulation(cfg, nTumor, nTCell), nil, nil
	}
	doc, err := popspec.Load(popPath)
	if err != nil {
		return nil, nil, err
	}
	return doc.Agents, doc.FieldUniform, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

type multiTickLogger struct {
	a *persistlog.TickLogger
	b *indexdb.SQLiteIndex
}

func (m multiTickLogger) LogTick(entry engine.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.LogTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}
