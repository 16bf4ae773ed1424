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

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gpu-ninja/ldap-gateway/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		conf, err := config.Parse([]byte(`
directory:
  baseDN: dc=example,dc=com
backend:
  type: rest
  rest:
    url: https://identity.example.com/api
`))
		require.NoError(t, err)

		assert.Equal(t, ":10389", conf.Listen.Address)
		assert.Equal(t, "info", conf.Log.Level)
		assert.Equal(t, "json", conf.Log.Format)
		assert.Equal(t, "ou=users,dc=example,dc=com", conf.Directory.UsersDN)
		assert.Equal(t, "ou=services,dc=example,dc=com", conf.Directory.ServicesDN)
		assert.Equal(t, "ou=groups,dc=example,dc=com", conf.Directory.GroupsDN)
		assert.Equal(t, "uid", conf.Directory.NameAttribute)
		assert.Equal(t, 5*time.Minute, conf.Cache.TTL.Duration)
		assert.Equal(t, time.Minute, conf.Cache.PurgeInterval.Duration)

		opts := conf.Backend.REST.RESTOptions()
		assert.Equal(t, 10*time.Second, opts.Timeout)
		assert.Equal(t, 2, opts.MaxRetries)
	})

	t.Run("Overrides", func(t *testing.T) {
		conf, err := config.Parse([]byte(`
listen:
  address: 127.0.0.1:3893
  readTimeout: 5s
log:
  level: debug
  format: logfmt
directory:
  baseDN: dc=corp
  usersDN: ou=people,dc=corp
  nameAttribute: cn
cache:
  ttl: 30s
backend:
  type: rest
  rest:
    url: http://localhost:8080
    maxRetries: 0
    resultsKey: values
`))
		require.NoError(t, err)

		assert.Equal(t, "127.0.0.1:3893", conf.Listen.Address)
		read, write := conf.Listen.Timeouts()
		assert.Equal(t, 5*time.Second, read)
		assert.Zero(t, write)
		assert.Equal(t, "ou=people,dc=corp", conf.Directory.UsersDN)
		assert.Equal(t, "cn", conf.Directory.TranslatorOptions().NameAttribute)
		assert.Equal(t, 30*time.Second, conf.Cache.TTL.Duration)

		opts := conf.Backend.REST.RESTOptions()
		assert.Zero(t, opts.MaxRetries)
		assert.Equal(t, "values", opts.ResultsKey)
	})

	t.Run("Fake Backend", func(t *testing.T) {
		conf, err := config.Parse([]byte(`
directory:
  baseDN: dc=example,dc=com
backend:
  type: fake
  fake:
    users:
    - name: alice
      secret: s3cr3t
      record:
        name: Alice Liddell
    services:
    - name: svc
      secret: token
    groups:
    - name: admins
      members: [alice]
`))
		require.NoError(t, err)

		require.Len(t, conf.Backend.Fake.Users, 1)
		assert.Equal(t, "alice", conf.Backend.Fake.Users[0].Name)
		assert.Equal(t, "Alice Liddell", conf.Backend.Fake.Users[0].Record.String("name"))
		require.Len(t, conf.Backend.Fake.Groups, 1)
		assert.Equal(t, "admins", conf.Backend.Fake.Groups[0].String("name"))
	})

	t.Run("LDAP Backend", func(t *testing.T) {
		conf, err := config.Parse([]byte(`
directory:
  baseDN: dc=example,dc=com
backend:
  type: ldap
  ldap:
    url: ldaps://ldap.corp:636
    usersDN: ou=people,dc=corp
    userAttribute: cn
    timeout: 3s
`))
		require.NoError(t, err)

		opts := conf.Backend.LDAP.UpstreamOptions()
		assert.Equal(t, "ldaps://ldap.corp:636", opts.URL)
		assert.Equal(t, "ou=people,dc=corp", opts.UsersDN)
		assert.Equal(t, "cn", opts.UserAttribute)
		assert.Equal(t, 3*time.Second, opts.Timeout)
	})

	t.Run("Aggregated Errors", func(t *testing.T) {
		_, err := config.Parse([]byte(`
listen:
  tls:
    certFile: tls.crt
backend:
  type: rest
  rest:
    url: ftp://example.com
`))
		require.Error(t, err)

		assert.Contains(t, err.Error(), "directory.baseDN is required")
		assert.Contains(t, err.Error(), "listen.tls requires certFile and keyFile")
		assert.Contains(t, err.Error(), "must be an http or https url")
	})

	t.Run("Backend Requirements", func(t *testing.T) {
		cases := []struct {
			backend string
			want    string
		}{
			{backend: ``, want: "backend.type is required"},
			{backend: `type: script`, want: `unknown backend type "script"`},
			{backend: `type: file`, want: "backend.file.path is required"},
			{backend: `type: kubernetes`, want: "backend.kubernetes.namespace is required"},
			{backend: `type: rest`, want: "backend.rest.url is required"},
			{backend: `type: ldap`, want: "backend.ldap.usersDN is required"},
		}

		for _, tc := range cases {
			_, err := config.Parse([]byte("directory:\n  baseDN: dc=example\nbackend:\n  " + tc.backend + "\n"))
			require.Error(t, err, tc.want)
			assert.Contains(t, err.Error(), tc.want)
		}
	})

	t.Run("Malformed DN", func(t *testing.T) {
		_, err := config.Parse([]byte(`
directory:
  baseDN: "dc=example,bogus"
backend:
  type: fake
`))
		assert.Error(t, err)
	})

	t.Run("Unknown Field", func(t *testing.T) {
		_, err := config.Parse([]byte(`
directory:
  baseDN: dc=example
  bogus: true
backend:
  type: fake
`))
		assert.Error(t, err)
	})
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
directory:
  baseDN: dc=example,dc=com
backend:
  type: file
  file:
    path: /etc/ldap-gateway/directory.yaml
    watch: true
`), 0o600))

	conf, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, conf.Backend.File.Watch)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadTLS(t *testing.T) {
	var l config.ListenConfig

	tlsConfig, err := l.LoadTLS()
	require.NoError(t, err)
	assert.Nil(t, tlsConfig)

	l.TLS = &config.TLSConfig{CertFile: "missing.crt", KeyFile: "missing.key"}
	_, err = l.LoadTLS()
	assert.Error(t, err)
}
