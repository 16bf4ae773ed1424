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

package upstream

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/gpu-ninja/ldap-gateway/internal/auth"
	"github.com/gpu-ninja/ldap-gateway/internal/backend"
	"github.com/gpu-ninja/ldap-gateway/internal/naming"
	"go.uber.org/zap"
)

const (
	DefaultTimeout        = 5 * time.Second
	DefaultUserAttribute  = "uid"
	DefaultGroupAttribute = "cn"
	DefaultUserFilter     = "(objectClass=inetOrgPerson)"
	DefaultGroupFilter    = "(objectClass=groupOfNames)"
)

// userAttributes maps upstream user attributes onto record fields.
var userAttributes = map[string]string{
	"cn":              "name",
	"mail":            "emailAddress",
	"givenName":       "firstName",
	"sn":              "lastName",
	"displayName":     "displayName",
	"telephoneNumber": "telephoneNumber",
}

// Options configures the upstream directory backend.
type Options struct {
	// URL of the upstream directory, ldap:// or ldaps://.
	URL string
	// CAFile is an optional PEM bundle to verify the upstream with.
	CAFile string
	// Timeout bounds dialing and each request.
	Timeout time.Duration

	// UsersDN, ServicesDN and GroupsDN are the upstream containers. Principals
	// bind as "<UserAttribute>=<name>,<UsersDN>" (or ServicesDN).
	UsersDN    string
	ServicesDN string
	GroupsDN   string

	UserAttribute  string
	GroupAttribute string
	UserFilter     string
	GroupFilter    string

	Logger *zap.Logger
}

// Backend authenticates principals by binding to an upstream directory and
// lists its users and groups with the principal's own credentials.
type Backend struct {
	opts      Options
	tlsConfig *tls.Config
}

var _ backend.Backend = (*Backend)(nil)

// New returns an upstream directory backend.
func New(opts Options) (*Backend, error) {
	if !strings.HasPrefix(opts.URL, "ldap://") && !strings.HasPrefix(opts.URL, "ldaps://") {
		return nil, fmt.Errorf("unsupported url %q", opts.URL)
	}
	if opts.UsersDN == "" {
		return nil, errors.New("users dn is required")
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAttribute == "" {
		opts.UserAttribute = DefaultUserAttribute
	}
	if opts.GroupAttribute == "" {
		opts.GroupAttribute = DefaultGroupAttribute
	}
	if opts.UserFilter == "" {
		opts.UserFilter = DefaultUserFilter
	}
	if opts.GroupFilter == "" {
		opts.GroupFilter = DefaultGroupFilter
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read ca file: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", opts.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	return &Backend{
		opts:      opts,
		tlsConfig: tlsConfig,
	}, nil
}

func (b *Backend) AuthenticateUser(ctx context.Context, name, secret string) (auth.Result, error) {
	ok, err := b.authenticate(ctx, b.principalDN(b.opts.UsersDN, name), secret)
	if err != nil || !ok {
		return auth.Negative(), err
	}

	return auth.UserPrincipal(name, secret, true), nil
}

func (b *Backend) AuthenticateService(ctx context.Context, name, secret string) (auth.Result, error) {
	if b.opts.ServicesDN == "" {
		return auth.Negative(), nil
	}

	ok, err := b.authenticate(ctx, b.principalDN(b.opts.ServicesDN, name), secret)
	if err != nil || !ok {
		return auth.Negative(), err
	}

	return auth.ServicePrincipal(name, secret, true), nil
}

func (b *Backend) authenticate(_ context.Context, dn, secret string) (bool, error) {
	conn, err := b.dial()
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if err := conn.Bind(dn, secret); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return false, nil
		}

		return false, fmt.Errorf("failed to bind as %s: %v: %w", dn, err, backend.ErrCommunication)
	}

	return true, nil
}

func (b *Backend) ListUsers(ctx context.Context, identity auth.Result) ([]backend.Record, error) {
	entries, err := b.search(ctx, identity, b.opts.UsersDN, b.opts.UserFilter, b.userAttributeNames())
	if err != nil {
		return nil, err
	}

	records := make([]backend.Record, 0, len(entries))
	for _, e := range entries {
		name := e.GetAttributeValue(b.opts.UserAttribute)
		if name == "" {
			continue
		}

		r := backend.Record{"userName": name}
		for attr, field := range userAttributes {
			if v := e.GetAttributeValue(attr); v != "" {
				r[field] = v
			}
		}

		records = append(records, r)
	}

	return records, nil
}

func (b *Backend) ListGroups(ctx context.Context, identity auth.Result) ([]backend.Record, error) {
	if b.opts.GroupsDN == "" {
		return nil, nil
	}

	entries, err := b.search(ctx, identity, b.opts.GroupsDN, b.opts.GroupFilter,
		[]string{b.opts.GroupAttribute, "description", "member", "memberUid"})
	if err != nil {
		return nil, err
	}

	records := make([]backend.Record, 0, len(entries))
	for _, e := range entries {
		name := e.GetAttributeValue(b.opts.GroupAttribute)
		if name == "" {
			continue
		}

		// member DNs name existing entries, memberUid is only used without them.
		var members []any
		for _, dn := range e.GetAttributeValues("member") {
			if member, ok := b.memberName(dn); ok {
				members = append(members, member)
			}
		}
		if len(members) == 0 {
			for _, uid := range e.GetAttributeValues("memberUid") {
				members = append(members, uid)
			}
		}

		r := backend.Record{"name": name, "members": members}
		if d := e.GetAttributeValue("description"); d != "" {
			r["description"] = d
		}

		records = append(records, r)
	}

	return records, nil
}

func (b *Backend) search(_ context.Context, identity auth.Result, baseDN, filter string, attributes []string) ([]*ldap.Entry, error) {
	if !identity.Success() {
		return nil, fmt.Errorf("listing as %s: %w", identity, backend.ErrUnauthorized)
	}

	container := b.opts.UsersDN
	if identity.Kind() == auth.KindService {
		container = b.opts.ServicesDN
	}

	conn, err := b.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.Bind(b.principalDN(container, identity.Name()), identity.Secret()); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return nil, fmt.Errorf("upstream rejected %s: %w", identity, backend.ErrUnauthorized)
		}

		return nil, fmt.Errorf("failed to bind: %v: %w", err, backend.ErrCommunication)
	}

	searchRequest := ldap.NewSearchRequest(
		baseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, int(b.opts.Timeout.Seconds()), false,
		filter,
		attributes,
		nil,
	)

	searchResult, err := conn.Search(searchRequest)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, nil
		}
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInsufficientAccessRights) {
			return nil, fmt.Errorf("failed to search %s: %v: %w", baseDN, err, backend.ErrUnauthorized)
		}

		return nil, fmt.Errorf("failed to search %s: %v: %w", baseDN, err, backend.ErrCommunication)
	}

	b.opts.Logger.Debug("Searched upstream directory",
		zap.String("baseDN", baseDN), zap.Int("entries", len(searchResult.Entries)))

	return searchResult.Entries, nil
}

func (b *Backend) dial() (*ldap.Conn, error) {
	conn, err := ldap.DialURL(b.opts.URL,
		ldap.DialWithDialer(&net.Dialer{Timeout: b.opts.Timeout}),
		ldap.DialWithTLSConfig(b.tlsConfig))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ldap server: %v: %w", err, backend.ErrCommunication)
	}

	conn.SetTimeout(b.opts.Timeout)

	return conn, nil
}

func (b *Backend) principalDN(container, name string) string {
	return b.opts.UserAttribute + "=" + naming.EscapeValue(name) + "," + container
}

// memberName returns the naming value of a member DN when it names an entry
// under the users container.
func (b *Backend) memberName(dn string) (string, bool) {
	parsed, err := ldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) == 0 {
		return "", false
	}

	for _, atv := range parsed.RDNs[0].Attributes {
		if strings.EqualFold(atv.Type, b.opts.UserAttribute) {
			return atv.Value, true
		}
	}

	return "", false
}

func (b *Backend) userAttributeNames() []string {
	names := []string{b.opts.UserAttribute}
	for attr := range userAttributes {
		names = append(names, attr)
	}
	return names
}
