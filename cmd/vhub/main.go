package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/audio"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/calldb"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/calllog"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/config"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/hub"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/monitor"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/orchestrator"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/stages"
)

const shutdownTimeout = 10 * time.Second

var configFiles []string

var rootCmd = &cobra.Command{
	Use:           "vhub",
	Short:         "Voice dialogue hub: runs the pipeline stages and the call controller",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configFiles)
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <remote_uri>",
	Short: "Print call history for a remote URI",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configFiles)
		if err != nil {
			return err
		}
		db, err := calldb.Open(cfg.CallDBPath, cfg.CallDBPeriod)
		if err != nil {
			return err
		}
		defer db.Close()

		st, err := db.URIStats(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "total calls:  %d\ntotal time:   %v\nrecent calls: %d\nrecent time:  %v\n",
			st.TotalCalls, st.TotalTime, st.RecentCalls, st.RecentTime)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVarP(&configFiles, "configs", "c", nil,
		"config files to load, later files override earlier ones")
	rootCmd.AddCommand(statsCmd)
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("vhub failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(files []string) (config.Config, error) {
	cfg, err := config.Load(files...)
	if err != nil {
		return cfg, err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	return cfg, nil
}

func run(parent context.Context, cfg config.Config) error {
	db, err := calldb.Open(cfg.CallDBPath, cfg.CallDBPeriod)
	if err != nil {
		return err
	}
	defer db.Close()
	if err = db.Log(parent); err != nil {
		slog.Warn("call db summary", "error", err)
	}

	tracer := calllog.NewTracer(db)
	defer tracer.Close()
	mon := monitor.NewBroadcaster(cfg.MonitorMaxSubs)

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	pipe, err := orchestrator.StartAll(ctx, stages.Builtin(stages.VAD{Config: audio.DefaultVADConfig()}), nil)
	if err != nil {
		return err
	}
	if err = pipe.Registry().WriteProcessRecord(cfg.PIDFilePath, os.Getpid()); err != nil {
		slog.Warn("write process record", "path", cfg.PIDFilePath, "error", err)
	}

	controller, err := hub.New(policyFrom(cfg), hub.Deps{
		Endpoints: hub.EndpointsOf(pipe),
		CallDB:    db,
		Tracer:    tracer,
		Monitor:   mon,
	})
	if err != nil {
		cancel(err)
		pipe.Wait()
		return err
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps{registry: pipe.Registry(), monitor: mon, db: db})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		slog.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
		}
	}()

	runErr := controller.Run(ctx, pipe, cancel)

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err = srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	return runErr
}

func policyFrom(cfg config.Config) hub.Policy {
	return hub.Policy{
		Tick:                cfg.MainLoopSleepTime,
		CallbackDelay:       cfg.WaitTimeBeforeCallingBack,
		MaxRecentCalls:      cfg.LastPeriodMaxNumCalls,
		MaxRecentTime:       cfg.LastPeriodMaxTotalTime,
		LimitReachedMessage: cfg.LimitReachedMessage,
		BlacklistFor:        cfg.BlacklistFor,
		HardTimeLimit:       cfg.HardTimeLimit,
		HardTurnLimit:       cfg.HardTurnLimit,
	}
}
