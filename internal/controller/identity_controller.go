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

package controller

import (
	"context"
	"fmt"
	"reflect"

	"github.com/gpu-ninja/ldap-gateway/api"
	"github.com/gpu-ninja/ldap-gateway/internal/constants"
	"github.com/gpu-ninja/ldap-gateway/internal/util"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
)

// LDAPGroups
//+kubebuilder:rbac:groups=ldap.gpu-ninja.com,resources=ldapgroups,verbs=get;list;watch
//+kubebuilder:rbac:groups=ldap.gpu-ninja.com,resources=ldapgroups/status,verbs=get;update;patch

// LDAPUsers
//+kubebuilder:rbac:groups=ldap.gpu-ninja.com,resources=ldapusers,verbs=get;list;watch
//+kubebuilder:rbac:groups=ldap.gpu-ninja.com,resources=ldapusers/status,verbs=get;update;patch

//+kubebuilder:rbac:groups=core,resources=secrets,verbs=get;list;watch
//+kubebuilder:rbac:groups=core,resources=events,verbs=create;patch

// RefreshFunc pushes the current content of the watched objects to the
// gateway.
type RefreshFunc func(ctx context.Context) error

// IdentityReconciler validates LDAPUser and LDAPGroup objects, reports their
// status and refreshes the gateway after every change.
type IdentityReconciler[T api.IdentityObject] struct {
	client.Client
	Scheme        *runtime.Scheme
	EventRecorder record.EventRecorder
	Refresh       RefreshFunc
}

func (r *IdentityReconciler[T]) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := util.LoggerFromContext(ctx)

	logger.Info("Reconciling identity object")

	obj := r.newInstance()
	if err := r.Get(ctx, req.NamespacedName, obj); err != nil {
		if errors.IsNotFound(err) {
			logger.Info("Object removed, refreshing")

			return ctrl.Result{}, r.refresh(ctx)
		}

		return ctrl.Result{}, err
	}

	if err := obj.Validate(ctx, r.Client, r.Scheme); err != nil {
		if util.IsRetryable(err) {
			logger.Info("Object not ready, requeuing", zap.Error(err))

			r.EventRecorder.Eventf(obj, corev1.EventTypeWarning,
				"NotReady", "Not ready: %s", err)

			if err := r.markPending(ctx, obj); err != nil {
				return ctrl.Result{}, fmt.Errorf("failed to mark as pending: %w", err)
			}

			return ctrl.Result{RequeueAfter: constants.ReconcileRetryInterval}, r.refresh(ctx)
		}

		logger.Error("Failed to validate object", zap.Error(err))

		r.EventRecorder.Eventf(obj, corev1.EventTypeWarning,
			"Failed", "Failed to validate: %s", err)

		r.markFailed(ctx, obj, err)

		return ctrl.Result{}, r.refresh(ctx)
	}

	if obj.GetPhase() != api.PhaseReady {
		r.EventRecorder.Event(obj, corev1.EventTypeNormal,
			"Ready", "Served by the gateway")
	}

	if err := r.markReady(ctx, obj); err != nil {
		return ctrl.Result{}, fmt.Errorf("failed to mark as ready: %w", err)
	}

	return ctrl.Result{}, r.refresh(ctx)
}

func (r *IdentityReconciler[T]) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(r.newInstance()).
		Complete(r)
}

func (r *IdentityReconciler[T]) newInstance() T {
	return reflect.New(reflect.TypeOf((*T)(nil)).Elem().Elem()).Interface().(T)
}

func (r *IdentityReconciler[T]) refresh(ctx context.Context) error {
	if r.Refresh == nil {
		return nil
	}

	if err := r.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to refresh gateway content: %w", err)
	}

	return nil
}

func (r *IdentityReconciler[T]) markPending(ctx context.Context, obj T) error {
	return r.setStatus(ctx, obj, api.SimpleStatus{
		Phase:              api.PhasePending,
		ObservedGeneration: obj.GetGeneration(),
	})
}

func (r *IdentityReconciler[T]) markReady(ctx context.Context, obj T) error {
	return r.setStatus(ctx, obj, api.SimpleStatus{
		Phase:              api.PhaseReady,
		ObservedGeneration: obj.GetGeneration(),
	})
}

func (r *IdentityReconciler[T]) markFailed(ctx context.Context, obj T, err error) {
	logger := util.LoggerFromContext(ctx)

	updateErr := r.setStatus(ctx, obj, api.SimpleStatus{
		Phase:              api.PhaseFailed,
		ObservedGeneration: obj.GetGeneration(),
		Message:            err.Error(),
	})
	if updateErr != nil {
		logger.Error("Failed to update status", zap.Error(updateErr))
	}
}

func (r *IdentityReconciler[T]) setStatus(ctx context.Context, obj T, status api.SimpleStatus) error {
	_, err := controllerutil.CreateOrPatch(ctx, r.Client, obj, func() error {
		obj.SetStatus(status)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	return nil
}
