/* SPDX-License-Identifier: Apache-2.0
 *
 * Copyright 2023 Damian Peckett <damian@pecke.tt>.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package util

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/hashicorp/go-hclog"
	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	LogFormatJSON    = "json"
	LogFormatLogfmt  = "logfmt"
	LogFormatConsole = "console"
)

type loggerKey struct{}

// BuildLogger constructs the process logger writing to stderr.
func BuildLogger(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(format) {
	case "", LogFormatJSON:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case LogFormatLogfmt:
		encoder = zaplogfmt.NewEncoder(encoderConfig)
	case LogFormatConsole:
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zap.NewAtomicLevelAt(lvl))

	return zap.New(core, zap.AddCaller()), nil
}

// NewLogger adapts a zap logger for libraries that log through logr
// (controller-runtime, client-go).
func NewLogger(logger *zap.Logger) logr.Logger {
	return zapr.NewLogger(logger)
}

// NewHCLogger adapts a zap logger for libraries that log through hclog
// (gldap, retryablehttp). Lines are forwarded to logger at info level.
func NewHCLogger(logger *zap.Logger, name string) hclog.Logger {
	level := hclog.Info
	if logger.Core().Enabled(zapcore.DebugLevel) {
		level = hclog.Debug
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:        name,
		Level:       level,
		Output:      zap.NewStdLog(logger).Writer(),
		DisableTime: true,
	})
}

// IntoContext returns a copy of ctx carrying logger.
func IntoContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFromContext returns the logger carried by ctx. Loggers injected by
// controller-runtime are unwrapped when they are backed by zap. Falls back to
// the global logger.
func LoggerFromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return logger
	}

	if l, err := logr.FromContext(ctx); err == nil {
		if underlier, ok := l.GetSink().(zapr.Underlier); ok {
			return underlier.GetUnderlying()
		}
	}

	return zap.L()
}
