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

package kubernetes

import (
	"context"
	"crypto/subtle"
	"fmt"

	ldapv1alpha1 "github.com/gpu-ninja/ldap-gateway/api/v1alpha1"
	"github.com/gpu-ninja/ldap-gateway/internal/auth"
	"github.com/gpu-ninja/ldap-gateway/internal/backend"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Backend serves LDAPUser and LDAPGroup objects from one namespace. Secrets
// are compared against the password secret referenced by each user.
type Backend struct {
	reader    client.Reader
	scheme    *runtime.Scheme
	namespace string
	logger    *zap.Logger
}

// New returns a backend reading objects through reader. The scheme must know
// the core types so that secrets resolve as typed objects.
func New(reader client.Reader, scheme *runtime.Scheme, namespace string, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Backend{
		reader:    reader,
		scheme:    scheme,
		namespace: namespace,
		logger:    logger,
	}
}

func (b *Backend) AuthenticateUser(ctx context.Context, name, secret string) (auth.Result, error) {
	ok, err := b.authenticate(ctx, name, secret, false)
	if err != nil {
		return auth.Negative(), err
	}
	if !ok {
		return auth.Negative(), nil
	}

	return auth.UserPrincipal(name, secret, true), nil
}

func (b *Backend) AuthenticateService(ctx context.Context, name, secret string) (auth.Result, error) {
	ok, err := b.authenticate(ctx, name, secret, true)
	if err != nil {
		return auth.Negative(), err
	}
	if !ok {
		return auth.Negative(), nil
	}

	return auth.ServicePrincipal(name, secret, true), nil
}

func (b *Backend) authenticate(ctx context.Context, name, secret string, serviceAccount bool) (bool, error) {
	users, err := b.listUsers(ctx)
	if err != nil {
		return false, err
	}

	for i := range users {
		u := &users[i]
		if u.Spec.Username != name || u.Spec.ServiceAccount != serviceAccount {
			continue
		}

		if !u.IsActive() {
			b.logger.Debug("Rejecting bind of inactive user", zap.String("username", name))
			return false, nil
		}

		password, ok, err := u.Password(ctx, b.reader, b.scheme)
		if err != nil {
			return false, fmt.Errorf("%v: %w", err, backend.ErrCommunication)
		}
		if !ok {
			return false, nil
		}

		return subtle.ConstantTimeCompare(password, []byte(secret)) == 1, nil
	}

	return false, nil
}

func (b *Backend) ListUsers(ctx context.Context, identity auth.Result) ([]backend.Record, error) {
	if !identity.Success() {
		return nil, fmt.Errorf("listing users as %s: %w", identity, backend.ErrUnauthorized)
	}

	users, _, err := b.Content(ctx)
	return users, err
}

func (b *Backend) ListGroups(ctx context.Context, identity auth.Result) ([]backend.Record, error) {
	if !identity.Success() {
		return nil, fmt.Errorf("listing groups as %s: %w", identity, backend.ErrUnauthorized)
	}

	groups, err := b.groups(ctx)
	if err != nil {
		return nil, err
	}

	return groups, nil
}

// Content returns the records of every user and group, without checking
// credentials.
func (b *Backend) Content(ctx context.Context) ([]backend.Record, []backend.Record, error) {
	users, err := b.listUsers(ctx)
	if err != nil {
		return nil, nil, err
	}

	var userRecords []backend.Record
	for i := range users {
		if users[i].Spec.ServiceAccount {
			continue
		}
		userRecords = append(userRecords, UserRecord(&users[i]))
	}

	groupRecords, err := b.groups(ctx)
	if err != nil {
		return nil, nil, err
	}

	return userRecords, groupRecords, nil
}

func (b *Backend) listUsers(ctx context.Context) ([]ldapv1alpha1.LDAPUser, error) {
	var list ldapv1alpha1.LDAPUserList
	if err := b.reader.List(ctx, &list, client.InNamespace(b.namespace)); err != nil {
		return nil, fmt.Errorf("failed to list users: %v: %w", err, backend.ErrCommunication)
	}

	return list.Items, nil
}

func (b *Backend) groups(ctx context.Context) ([]backend.Record, error) {
	var list ldapv1alpha1.LDAPGroupList
	if err := b.reader.List(ctx, &list, client.InNamespace(b.namespace)); err != nil {
		return nil, fmt.Errorf("failed to list groups: %v: %w", err, backend.ErrCommunication)
	}

	records := make([]backend.Record, 0, len(list.Items))
	for i := range list.Items {
		records = append(records, GroupRecord(&list.Items[i]))
	}

	return records, nil
}

// UserRecord converts an LDAPUser into a backend record.
func UserRecord(u *ldapv1alpha1.LDAPUser) backend.Record {
	r := backend.Record{
		"userName": u.Spec.Username,
		"isActive": u.IsActive(),
	}

	optional := map[string]string{
		"name":            u.Spec.Name,
		"firstName":       u.Spec.FirstName,
		"lastName":        u.Spec.Surname,
		"displayName":     u.Spec.DisplayName,
		"emailAddress":    u.Spec.Email,
		"telephoneNumber": u.Spec.TelephoneNumber,
	}
	for k, v := range optional {
		if v != "" {
			r[k] = v
		}
	}

	return r
}

// GroupRecord converts an LDAPGroup into a backend record.
func GroupRecord(g *ldapv1alpha1.LDAPGroup) backend.Record {
	members := make([]any, 0, len(g.Spec.Members))
	for _, m := range g.Spec.Members {
		members = append(members, m)
	}

	r := backend.Record{
		"name":    g.Spec.Name,
		"members": members,
	}
	if g.Spec.Description != "" {
		r["description"] = g.Spec.Description
	}

	return r
}

// Sync reads the current content and hands it to onChange.
func (b *Backend) Sync(ctx context.Context, onChange backend.ChangeFunc) error {
	users, groups, err := b.Content(ctx)
	if err != nil {
		return err
	}

	onChange(users, groups)

	return nil
}
