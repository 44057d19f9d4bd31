// internal/logging/output.go
package logging

import (
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// instrumentationName scopes records sent through the OTEL bridge.
const instrumentationName = "github.com/fyrsmithlabs/recalld"

// newCore assembles the configured sinks behind sampling. The returned
// func closes the log file, if one was opened.
func newCore(cfg *Config, provider log.LoggerProvider) (zapcore.Core, func(), error) {
	var cores []zapcore.Core
	var sinks []zapcore.WriteSyncer
	closeFn := func() {}

	if cfg.Output.Stdout {
		sinks = append(sinks, zapcore.Lock(os.Stdout))
	}
	if cfg.Output.File != "" {
		ws, closeFile, err := zap.Open(cfg.Output.File)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		sinks = append(sinks, ws)
		closeFn = closeFile
	}
	if len(sinks) > 0 {
		enc, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(sinks...), cfg.Level.Zap()))
	}

	if cfg.Output.OTEL && provider != nil {
		minLevel := cfg.Level.Zap()
		bridge := otelzap.NewCore(instrumentationName, otelzap.WithLoggerProvider(provider))
		cores = append(cores, &levelCore{Core: bridge, accept: func(l zapcore.Level) bool { return l >= minLevel }})
	}

	if len(cores) == 0 {
		return zapcore.NewNopCore(), closeFn, nil
	}
	return newSampledCore(zapcore.NewTee(cores...), cfg.Sampling), closeFn, nil
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = encodeLevel
	if format == "console" {
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}
