// Command selftest runs the simulated instrument self-test: the engine and its
// sub-machines run on one worker thread while a second thread receives the
// status and result callbacks.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/amp-labs/amp-dispatch/callback"
	"github.com/amp-labs/amp-dispatch/envutil"
	"github.com/amp-labs/amp-dispatch/logger"
	"github.com/amp-labs/amp-dispatch/selftest"
	"github.com/amp-labs/amp-dispatch/shutdown"
	"github.com/amp-labs/amp-dispatch/telemetry"
	"github.com/amp-labs/amp-dispatch/timer"
	"github.com/amp-labs/amp-dispatch/worker"
)

const appName = "selftest"

var errSelfTestFailed = errors.New("self-test failed")

func main() {
	ctx := logger.WithSubsystem(context.Background(), appName)

	logger.ConfigureLogging(appName)

	config, err := telemetry.LoadConfigFromEnv(ctx,
		envutil.String("APP_ENV", envutil.Default("dev")).ValueOrElse("dev"))
	if err != nil {
		logger.Get(ctx).Error("bad telemetry configuration", "error", err)
		os.Exit(1)
	}

	tel, err := telemetry.Initialize(ctx, config)
	if err != nil {
		logger.Get(ctx).Error("telemetry initialization failed", "error", err)
		os.Exit(1)
	}

	logger.ConfigureLogging(appName, logger.WithBridge(tel.LogHandler()))

	coord := shutdown.New()
	coord.BeforeShutdown("telemetry", tel.Shutdown)

	ctx = coord.SetupHandler(ctx)

	err = run(ctx, coord)

	if hookErr := coord.RunHooks(context.WithoutCancel(ctx)); hookErr != nil {
		logger.Get(ctx).Error("shutdown failed", "error", hookErr)
	}

	if err != nil {
		logger.Get(ctx).Error("self-test did not pass", "error", err)
		os.Exit(1)
	}

	logger.Get(ctx).Info("self-test passed")
}

func run(ctx context.Context, coord *shutdown.Coordinator) error {
	reg := callback.NewRegistry()
	coord.BeforeShutdown("registry", func(context.Context) error {
		reg.Close()

		return nil
	})

	timers := timer.New(reg)
	coord.BeforeShutdown("timers", func(context.Context) error {
		timers.Close()

		return nil
	})

	engineThread := worker.New("thread1", worker.WithTickHandler(timers))
	clientThread := worker.New("thread2")
	threads := worker.NewGroup(engineThread, clientThread)

	coord.BeforeShutdown("threads", threads.ExitAll)

	if err := threads.CreateAll(ctx); err != nil {
		return fmt.Errorf("starting worker threads: %w", err)
	}

	engine, err := selftest.New(selftest.Deps{
		Registry: reg,
		Timers:   timers,
		Thread:   engineThread,
	})
	if err != nil {
		return fmt.Errorf("building self-test: %w", err)
	}

	result := make(chan error, 1)

	onStatus := callback.New("main.status", func(ctx context.Context, s selftest.Status) {
		logger.Get(ctx).Info("self-test status", "active", s.TestActive)
	})
	onCompleted := callback.New("main.completed", func(ctx context.Context, _ struct{}) {
		logger.Get(ctx).Info("self-test completed")

		report(result, nil)
	})
	onFailed := callback.New("main.failed", func(ctx context.Context, _ struct{}) {
		logger.Get(ctx).Warn("self-test failed")

		report(result, errSelfTestFailed)
	})

	if _, err := engine.Status.Register(onStatus, clientThread); err != nil {
		return err
	}

	if _, err := engine.Completed.Register(onCompleted, clientThread); err != nil {
		return err
	}

	if _, err := engine.Failed.Register(onFailed, clientThread); err != nil {
		return err
	}

	if err := engine.Start(ctx); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// report keeps the first result; the client thread never blocks on it.
func report(result chan<- error, err error) {
	select {
	case result <- err:
	default:
	}
}
