// Package telemetry wires OpenTelemetry tracing and log export for the
// dispatch runtime. State machine events are traced through the global tracer
// provider this package installs.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/amp-labs/amp-dispatch/envutil"
	"github.com/amp-labs/amp-dispatch/errors"
	"github.com/amp-labs/amp-dispatch/logger"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

const (
	defaultServiceVersion = "1.0.0"
	defaultTimeout        = 5 * time.Second
)

// Config holds the OpenTelemetry configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	TracesEndpoint string
	LogsEndpoint   string
	Enabled        bool
	Timeout        time.Duration
}

// LoadConfigFromEnv loads OpenTelemetry configuration from environment variables.
func LoadConfigFromEnv(ctx context.Context, runningEnv string) (*Config, error) {
	enabled := envutil.Bool("OTEL_ENABLED",
		envutil.Default(false)).
		ValueOrElse(false)

	svcName, err := envutil.String("OTEL_SERVICE_NAME",
		envutil.Default(logger.GetSubsystem(ctx))).
		Value()
	if err != nil {
		return nil, err
	}

	svcVersion, err := envutil.String("OTEL_SERVICE_VERSION",
		envutil.Default(defaultServiceVersion)).
		Value()
	if err != nil {
		return nil, err
	}

	traces, err := envutil.String("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", envutil.Default("")).Value()
	if err != nil {
		return nil, err
	}

	logs, err := envutil.String("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT", envutil.Default("")).Value()
	if err != nil {
		return nil, err
	}

	timeout, err := envutil.Duration("OTEL_EXPORTER_OTLP_TIMEOUT",
		envutil.Default(defaultTimeout)).
		Value()
	if err != nil {
		return nil, err
	}

	return &Config{
		ServiceName:    svcName,
		ServiceVersion: svcVersion,
		Environment:    runningEnv,
		TracesEndpoint: traces,
		LogsEndpoint:   logs,
		Enabled:        enabled,
		Timeout:        timeout,
	}, nil
}

// Telemetry holds the providers created by Initialize.
type Telemetry struct {
	tracerProvider *sdktrace.TracerProvider
	loggerProvider *sdklog.LoggerProvider
	logHandler     slog.Handler
}

// Initialize sets up OpenTelemetry with the given configuration. Missing
// endpoints disable the corresponding signal; a disabled config returns a
// Telemetry whose methods do nothing.
func Initialize(ctx context.Context, config *Config) (*Telemetry, error) {
	tel := &Telemetry{}

	if !config.Enabled {
		logger.Get(ctx).Info("OpenTelemetry is disabled")

		return tel, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if config.TracesEndpoint == "" {
		logger.Get(ctx).Warn("OpenTelemetry traces endpoint not configured, tracing will be disabled")
	} else if err := tel.initTracing(ctx, config, res); err != nil {
		return nil, err
	}

	if config.LogsEndpoint != "" {
		if err := tel.initLogs(ctx, config, res); err != nil {
			return nil, err
		}
	}

	return tel, nil
}

func (t *Telemetry) initTracing(ctx context.Context, config *Config, res *resource.Resource) error {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(config.TracesEndpoint),
		otlptracehttp.WithTimeout(config.Timeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	t.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(t.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Get(ctx).Info("OpenTelemetry tracing initialized",
		"service", config.ServiceName,
		"version", config.ServiceVersion,
		"environment", config.Environment,
		"endpoint", config.TracesEndpoint,
	)

	return nil
}

func (t *Telemetry) initLogs(ctx context.Context, config *Config, res *resource.Resource) error {
	exporter, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpointURL(config.LogsEndpoint),
		otlploghttp.WithTimeout(config.Timeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}

	t.loggerProvider = sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
		sdklog.WithResource(res),
	)

	global.SetLoggerProvider(t.loggerProvider)

	t.logHandler = otelslog.NewHandler(config.ServiceName, otelslog.WithLoggerProvider(t.loggerProvider))

	logger.Get(ctx).Info("OpenTelemetry log export initialized", "endpoint", config.LogsEndpoint)

	return nil
}

// LogHandler returns the slog bridge to the OTLP log exporter, or nil when log
// export is off. Pass it to logger.WithBridge.
func (t *Telemetry) LogHandler() slog.Handler { //nolint:ireturn
	return t.logHandler
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs errors.Collection

	if t.tracerProvider != nil {
		logger.Get(ctx).Info("Shutting down OpenTelemetry tracer provider")
		errs.Add(t.tracerProvider.Shutdown(ctx))
	}

	if t.loggerProvider != nil {
		errs.Add(t.loggerProvider.Shutdown(ctx))
	}

	return errs.GetError()
}
