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

package controller_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gpu-ninja/ldap-gateway/api"
	ldapv1alpha1 "github.com/gpu-ninja/ldap-gateway/api/v1alpha1"
	"github.com/gpu-ninja/ldap-gateway/internal/constants"
	"github.com/gpu-ninja/ldap-gateway/internal/controller"
	"github.com/gpu-ninja/ldap-gateway/internal/util"
	"github.com/gpu-ninja/operator-utils/reference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"
)

func TestIdentityReconciler(t *testing.T) {
	ctrl.SetLogger(util.NewLogger(zaptest.NewLogger(t)))

	scheme := runtime.NewScheme()
	_ = ldapv1alpha1.AddToScheme(scheme)
	_ = corev1.AddToScheme(scheme)

	ldapUser := &ldapv1alpha1.LDAPUser{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "test-user",
			Namespace: "default",
		},
		Spec: ldapv1alpha1.LDAPUserSpec{
			Username: "test-user",
			PasswordSecretRef: &reference.LocalSecretReference{
				Name: "test-user-password",
			},
		},
	}

	userPassword := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "test-user-password",
			Namespace: "default",
		},
		Data: map[string][]byte{
			api.DefaultSecretKey: []byte("test-password"),
		},
	}

	req := reconcile.Request{
		NamespacedName: types.NamespacedName{
			Name:      ldapUser.Name,
			Namespace: ldapUser.Namespace,
		},
	}

	ctx := context.Background()

	t.Run("Ready", func(t *testing.T) {
		client := fake.NewClientBuilder().
			WithScheme(scheme).
			WithObjects(ldapUser, userPassword).
			WithStatusSubresource(ldapUser).
			Build()

		var refreshes int
		eventRecorder := record.NewFakeRecorder(2)
		r := &controller.IdentityReconciler[*ldapv1alpha1.LDAPUser]{
			Client:        client,
			Scheme:        scheme,
			EventRecorder: eventRecorder,
			Refresh: func(ctx context.Context) error {
				refreshes++
				return nil
			},
		}

		resp, err := r.Reconcile(ctx, req)
		require.NoError(t, err)
		assert.Zero(t, resp.RequeueAfter)
		assert.Equal(t, 1, refreshes)
		assert.Len(t, eventRecorder.Events, 1)

		var updated ldapv1alpha1.LDAPUser
		require.NoError(t, client.Get(ctx, req.NamespacedName, &updated))
		assert.Equal(t, api.PhaseReady, updated.Status.Phase)

		// Already ready, no further event.
		_, err = r.Reconcile(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, 2, refreshes)
		assert.Len(t, eventRecorder.Events, 1)
	})

	t.Run("References Not Resolvable", func(t *testing.T) {
		client := fake.NewClientBuilder().
			WithScheme(scheme).
			WithObjects(ldapUser). // Note the missing secret.
			WithStatusSubresource(ldapUser).
			Build()

		eventRecorder := record.NewFakeRecorder(2)
		r := &controller.IdentityReconciler[*ldapv1alpha1.LDAPUser]{
			Client:        client,
			Scheme:        scheme,
			EventRecorder: eventRecorder,
		}

		resp, err := r.Reconcile(ctx, req)
		require.NoError(t, err)
		assert.Len(t, eventRecorder.Events, 1)
		assert.Equal(t, constants.ReconcileRetryInterval, resp.RequeueAfter)

		var updated ldapv1alpha1.LDAPUser
		require.NoError(t, client.Get(ctx, req.NamespacedName, &updated))
		assert.Equal(t, api.PhasePending, updated.Status.Phase)
	})

	t.Run("Invalid", func(t *testing.T) {
		invalid := ldapUser.DeepCopy()
		invalid.Spec.Username = ""

		client := fake.NewClientBuilder().
			WithScheme(scheme).
			WithObjects(invalid, userPassword).
			WithStatusSubresource(invalid).
			Build()

		eventRecorder := record.NewFakeRecorder(2)
		r := &controller.IdentityReconciler[*ldapv1alpha1.LDAPUser]{
			Client:        client,
			Scheme:        scheme,
			EventRecorder: eventRecorder,
		}

		resp, err := r.Reconcile(ctx, req)
		require.NoError(t, err)
		assert.Zero(t, resp.RequeueAfter)
		assert.Len(t, eventRecorder.Events, 1)

		var updated ldapv1alpha1.LDAPUser
		require.NoError(t, client.Get(ctx, req.NamespacedName, &updated))
		assert.Equal(t, api.PhaseFailed, updated.Status.Phase)
		assert.Contains(t, updated.Status.Message, "username")
	})

	t.Run("Deleted", func(t *testing.T) {
		client := fake.NewClientBuilder().
			WithScheme(scheme).
			Build()

		var refreshes int
		r := &controller.IdentityReconciler[*ldapv1alpha1.LDAPUser]{
			Client:        client,
			Scheme:        scheme,
			EventRecorder: record.NewFakeRecorder(2),
			Refresh: func(ctx context.Context) error {
				refreshes++
				return nil
			},
		}

		_, err := r.Reconcile(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, 1, refreshes)
	})

	t.Run("Refresh Failure", func(t *testing.T) {
		client := fake.NewClientBuilder().
			WithScheme(scheme).
			WithObjects(ldapUser, userPassword).
			WithStatusSubresource(ldapUser).
			Build()

		r := &controller.IdentityReconciler[*ldapv1alpha1.LDAPUser]{
			Client:        client,
			Scheme:        scheme,
			EventRecorder: record.NewFakeRecorder(2),
			Refresh: func(ctx context.Context) error {
				return errors.New("apiserver unavailable")
			},
		}

		_, err := r.Reconcile(ctx, req)
		assert.Error(t, err)
	})
}

func TestIdentityReconcilerGroups(t *testing.T) {
	scheme := runtime.NewScheme()
	_ = ldapv1alpha1.AddToScheme(scheme)

	group := &ldapv1alpha1.LDAPGroup{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "admins",
			Namespace: "default",
		},
		Spec: ldapv1alpha1.LDAPGroupSpec{
			Name:    "admins",
			Members: []string{"test-user"},
		},
	}

	client := fake.NewClientBuilder().
		WithScheme(scheme).
		WithObjects(group).
		WithStatusSubresource(group).
		Build()

	r := &controller.IdentityReconciler[*ldapv1alpha1.LDAPGroup]{
		Client:        client,
		Scheme:        scheme,
		EventRecorder: record.NewFakeRecorder(2),
	}

	ctx := context.Background()
	key := types.NamespacedName{Name: group.Name, Namespace: group.Namespace}

	_, err := r.Reconcile(ctx, reconcile.Request{NamespacedName: key})
	require.NoError(t, err)

	var updated ldapv1alpha1.LDAPGroup
	require.NoError(t, client.Get(ctx, key, &updated))
	assert.Equal(t, api.PhaseReady, updated.Status.Phase)
}
