package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Options はロガーの構成です。
type Options struct {
	ServiceName  string
	Level        string
	Writer       io.Writer
	OTLPEndpoint string // 空ならOTelへは送らない
}

// ShutdownFunc は未送信のログを流してプロバイダを停止します。
type ShutdownFunc func(ctx context.Context) error

func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New はテキストハンドラと、設定があればOTLPへのブリッジを束ねたロガーを作ります。
func New(ctx context.Context, opts Options) (*slog.Logger, ShutdownFunc, error) {
	level := ParseLevel(opts.Level)
	text := slog.NewTextHandler(opts.Writer, &slog.HandlerOptions{Level: level})
	if opts.OTLPEndpoint == "" {
		return slog.New(text), func(context.Context) error { return nil }, nil
	}

	exporter, err := otlploggrpc.New(ctx,
		otlploggrpc.WithEndpoint(opts.OTLPEndpoint),
		otlploggrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create otlp log exporter: %w", err)
	}
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)))
	return NewWithProvider(text, opts.ServiceName, provider, level), provider.Shutdown, nil
}

// NewWithProvider は既存のハンドラにOTelブリッジを加えます。
// ブリッジ側にもlevel未満のレコードは送りません。
func NewWithProvider(base slog.Handler, serviceName string, provider *sdklog.LoggerProvider, level slog.Leveler) *slog.Logger {
	otelHandler := otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(provider))
	return slog.New(NewMultiHandler(base, NewLevelHandler(otelHandler, level)))
}
