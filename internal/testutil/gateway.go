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

package testutil

import (
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/gpu-ninja/ldap-gateway/internal/backend"
	"github.com/gpu-ninja/ldap-gateway/internal/directory"
	"github.com/gpu-ninja/ldap-gateway/internal/gateway"
	"github.com/gpu-ninja/ldap-gateway/internal/mapper"
	"github.com/gpu-ninja/ldap-gateway/internal/naming"
	"github.com/gpu-ninja/ldap-gateway/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	BaseDN     = "dc=example,dc=com"
	UsersDN    = "ou=users,dc=example,dc=com"
	ServicesDN = "ou=services,dc=example,dc=com"
	GroupsDN   = "ou=groups,dc=example,dc=com"
)

// StartGateway serves b on a free loopback port for the duration of the test.
// The listener uses LDAPS when tlsConfig is not nil.
func StartGateway(t *testing.T, b backend.Backend, tlsConfig *tls.Config) (*server.Server, string) {
	logger := zaptest.NewLogger(t)

	translator, err := naming.NewTranslator(naming.Options{
		BaseDN:        BaseDN,
		UsersDN:       UsersDN,
		ServicesDN:    ServicesDN,
		GroupsDN:      GroupsDN,
		NameAttribute: "uid",
	})
	require.NoError(t, err)

	cache := directory.NewCache(b, mapper.New(translator), directory.CacheOptions{Logger: logger})

	addr := FreeAddress(t)
	srv, err := server.New(
		gateway.NewBindProcessor(translator, b, nil, logger),
		gateway.NewSearchProcessor(translator, cache, nil, logger),
		server.Options{Address: addr, TLSConfig: tlsConfig, Logger: logger})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	require.Eventually(t, srv.Ready, 5*time.Second, 10*time.Millisecond)

	return srv, addr
}
