package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/diviatrix/ts-cms-sub000/pkg/app"
	"github.com/diviatrix/ts-cms-sub000/pkg/config"
	"github.com/diviatrix/ts-cms-sub000/pkg/logging"
	"github.com/diviatrix/ts-cms-sub000/pkg/signal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	Version = "v1.0.0"

	cfg     config.Config
	envErr  error
	verbose bool

	rt            *app.Runtime
	metricsServer *http.Server
)

var rootCmd = &cobra.Command{
	Use:           "tscms",
	Short:         "tscms is the command line client for the CMS admin API",
	Long:          `tscms signs in to the CMS API, stores the session token and issues authenticated requests with the same error handling as the admin panel.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envErr != nil {
			return envErr
		}
		normalized, err := cfg.Normalize()
		if err != nil {
			return err
		}

		logger, err := logging.New(logging.Options{
			FilePath: normalized.LogFile,
			Level:    normalized.LogLevel,
			Console:  verbose,
		})
		if err != nil {
			return err
		}

		rt, err = app.New(normalized, app.WithLogger(logger))
		if err != nil {
			return err
		}
		rt.Bus.Subscribe(signal.NotificationShown, printNotification(cmd.ErrOrStderr()))
		startMetrics(normalized.MetricsAddr, logger)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return shutdown()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		shutdown()
		stop()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cfg, envErr = config.FromEnv()

	fs := flag.NewFlagSet("tscms", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	rootCmd.PersistentFlags().AddGoFlagSet(fs)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log to stderr")
}

func startMetrics(addr string, logger *zap.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer = &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("metrics server listening", zap.String("addr", addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

func shutdown() error {
	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		metricsServer.Shutdown(ctx)
		metricsServer = nil
	}
	if rt == nil {
		return nil
	}
	rt.Logger.Sync()
	err := rt.Close()
	rt = nil
	return err
}

// guard runs fn with panic recovery routed through the notification center.
func guard(fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if r := recover(); r != nil {
				rt.Notifications.ReportPanic(r)
				err = fmt.Errorf("unexpected client error: %v", r)
			}
		}()
		return fn(cmd, args)
	}
}

// printNotification renders shown notifications as plain lines, which is
// how the CLI surfaces what the admin panel would show as toasts.
func printNotification(w io.Writer) signal.Handler {
	return func(evt signal.Event) {
		kind, _ := evt.Data["kind"].(string)
		title, _ := evt.Data["title"].(string)
		text, _ := evt.Data["text"].(string)
		if title != "" {
			fmt.Fprintf(w, "[%s] %s: %s\n", kind, title, text)
			return
		}
		fmt.Fprintf(w, "[%s] %s\n", kind, text)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
