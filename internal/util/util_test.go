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

package util_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-logr/logr"
	"github.com/gpu-ninja/ldap-gateway/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRetryable(t *testing.T) {
	assert.NoError(t, util.Retryable(nil))

	base := errors.New("secret not found")
	err := util.Retryable(base)

	assert.True(t, util.IsRetryable(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "secret not found", err.Error())

	wrapped := fmt.Errorf("failed to validate: %w", err)
	assert.True(t, util.IsRetryable(wrapped))

	assert.False(t, util.IsRetryable(base))
	assert.False(t, util.IsRetryable(nil))
}

func TestBuildLogger(t *testing.T) {
	for _, format := range []string{"json", "logfmt", "console", ""} {
		logger, err := util.BuildLogger("debug", format)
		require.NoError(t, err, format)
		assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	}

	logger, err := util.BuildLogger("WARN", "json")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))

	_, err = util.BuildLogger("loud", "json")
	assert.Error(t, err)

	_, err = util.BuildLogger("info", "xml")
	assert.Error(t, err)
}

func TestLoggerFromContext(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	t.Run("Injected", func(t *testing.T) {
		ctx := util.IntoContext(context.Background(), logger)
		util.LoggerFromContext(ctx).Info("Hello")

		assert.Equal(t, 1, logs.FilterMessage("Hello").Len())
	})

	t.Run("From logr", func(t *testing.T) {
		ctx := logr.NewContext(context.Background(), util.NewLogger(logger).WithValues("controller", "ldapuser"))
		util.LoggerFromContext(ctx).Info("Reconciling")

		entries := logs.FilterMessage("Reconciling").All()
		require.Len(t, entries, 1)
		assert.Equal(t, "ldapuser", entries[0].ContextMap()["controller"])
	})

	t.Run("Fallback", func(t *testing.T) {
		assert.NotNil(t, util.LoggerFromContext(context.Background()))
	})
}

func TestNewHCLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	hl := util.NewHCLogger(zap.New(core), "gldap")
	hl.Info("listening", "addr", ":10389")
	hl.Trace("dropped")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "listening")
	assert.Contains(t, entries[0].Message, "addr=:10389")
}
