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

package rest

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gpu-ninja/ldap-gateway/internal/auth"
	"github.com/gpu-ninja/ldap-gateway/internal/backend"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	DefaultUserAuthPath    = "/rest/auth/user"
	DefaultServiceAuthPath = "/rest/auth/service"
	DefaultUsersPath       = "/rest/users"
	DefaultGroupsPath      = "/rest/groups"
	DefaultTimeout         = 10 * time.Second
	DefaultMaxRetries      = 2
)

// maxBodySize bounds listing responses.
const maxBodySize = 64 << 20

// Options configures the REST backend.
type Options struct {
	// URL is the base URL of the identity service.
	URL string
	// Timeout bounds each HTTP attempt.
	Timeout time.Duration
	// MaxRetries is the number of retries after a failed attempt.
	MaxRetries int
	// RetryWaitMin and RetryWaitMax bound the linear jitter backoff.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// CAFile is an optional PEM bundle to verify the service with.
	CAFile string

	UserAuthPath    string
	ServiceAuthPath string
	UsersPath       string
	GroupsPath      string

	// ResultsKey names the field holding the record array when listings are
	// wrapped in an object. Empty means listings are bare arrays.
	ResultsKey string

	Logger hclog.Logger
}

// Backend talks to a REST identity service using HTTP basic authentication.
type Backend struct {
	baseURL *url.URL
	opts    Options
	client  *retryablehttp.Client
}

var _ backend.Backend = (*Backend)(nil)

// New returns a REST backend.
func New(opts Options) (*Backend, error) {
	baseURL, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse url: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", baseURL.Scheme)
	}

	setDefaults(&opts)

	transport := cleanhttp.DefaultPooledTransport()
	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read ca file: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", opts.CAFile)
		}

		transport.TLSClientConfig = &tls.Config{
			RootCAs:    pool,
			MinVersion: tls.VersionTLS12,
		}
	}

	client := &retryablehttp.Client{
		HTTPClient: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		Logger:       opts.Logger,
		RetryWaitMin: opts.RetryWaitMin,
		RetryWaitMax: opts.RetryWaitMax,
		RetryMax:     opts.MaxRetries,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      retryablehttp.LinearJitterBackoff,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}

	return &Backend{
		baseURL: baseURL,
		opts:    opts,
		client:  client,
	}, nil
}

func setDefaults(opts *Options) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = 100 * time.Millisecond
	}
	if opts.RetryWaitMax < opts.RetryWaitMin {
		opts.RetryWaitMax = 10 * opts.RetryWaitMin
	}
	if opts.UserAuthPath == "" {
		opts.UserAuthPath = DefaultUserAuthPath
	}
	if opts.ServiceAuthPath == "" {
		opts.ServiceAuthPath = DefaultServiceAuthPath
	}
	if opts.UsersPath == "" {
		opts.UsersPath = DefaultUsersPath
	}
	if opts.GroupsPath == "" {
		opts.GroupsPath = DefaultGroupsPath
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
}

func (b *Backend) AuthenticateUser(ctx context.Context, name, secret string) (auth.Result, error) {
	ok, err := b.authenticate(ctx, b.opts.UserAuthPath, name, secret)
	if err != nil || !ok {
		return auth.Negative(), err
	}

	return auth.UserPrincipal(name, secret, true), nil
}

func (b *Backend) AuthenticateService(ctx context.Context, name, secret string) (auth.Result, error) {
	ok, err := b.authenticate(ctx, b.opts.ServiceAuthPath, name, secret)
	if err != nil || !ok {
		return auth.Negative(), err
	}

	return auth.ServicePrincipal(name, secret, true), nil
}

func (b *Backend) ListUsers(ctx context.Context, identity auth.Result) ([]backend.Record, error) {
	return b.list(ctx, b.opts.UsersPath, identity)
}

func (b *Backend) ListGroups(ctx context.Context, identity auth.Result) ([]backend.Record, error) {
	return b.list(ctx, b.opts.GroupsPath, identity)
}

func (b *Backend) authenticate(ctx context.Context, path, name, secret string) (bool, error) {
	resp, err := b.do(ctx, path, name, secret)
	if err != nil {
		return false, err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected status %d from %s: %w", resp.StatusCode, path, backend.ErrCommunication)
	}
}

func (b *Backend) list(ctx context.Context, path string, identity auth.Result) ([]backend.Record, error) {
	if !identity.Success() {
		return nil, fmt.Errorf("listing requires an authenticated identity: %w", backend.ErrUnauthorized)
	}

	resp, err := b.do(ctx, path, identity.Name(), identity.Secret())
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("status %d from %s: %w", resp.StatusCode, path, backend.ErrUnauthorized)
	default:
		return nil, fmt.Errorf("unexpected status %d from %s: %w", resp.StatusCode, path, backend.ErrCommunication)
	}

	records, err := b.decode(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %v: %w", path, err, backend.ErrCommunication)
	}

	return records, nil
}

func (b *Backend) do(ctx context.Context, path, name, secret string) (*http.Response, error) {
	u := b.baseURL.JoinPath(strings.TrimPrefix(path, "/"))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(name, secret)
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %v: %w", path, err, backend.ErrCommunication)
	}

	return resp, nil
}

func (b *Backend) decode(r io.Reader) ([]backend.Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	if b.opts.ResultsKey == "" {
		var records []backend.Record
		if err := dec.Decode(&records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var wrapped map[string]json.RawMessage
	if err := dec.Decode(&wrapped); err != nil {
		return nil, err
	}

	raw, ok := wrapped[b.opts.ResultsKey]
	if !ok {
		return nil, fmt.Errorf("missing %q in response", b.opts.ResultsKey)
	}

	dec = json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()

	var records []backend.Record
	if err := dec.Decode(&records); err != nil {
		return nil, err
	}

	return records, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
	_ = resp.Body.Close()
}
