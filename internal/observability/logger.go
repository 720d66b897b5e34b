package observability

import (
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	otellog "go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/imrishuroy/marketplace-orderflow/internal/config"
)

const instrumentationScope = "marketplace-orderflow.manual"

// NewLogger returns a JSON stdout logger. When provider is non-nil the logger
// also tees every entry into the OpenTelemetry log pipeline.
func NewLogger(level string, provider otellog.LoggerProvider) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.Lock(os.Stdout),
		lvl,
	)
	if provider != nil {
		core = zapcore.NewTee(core, otelzap.NewCore(instrumentationScope, otelzap.WithLoggerProvider(provider)))
	}

	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service.name", config.ServiceName)),
	), nil
}
