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

package api

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// DefaultSecretKey is the secret key read when a reference names none.
const DefaultSecretKey = "password"

// IdentityObject is implemented by all identity resources served by the gateway.
type IdentityObject interface {
	client.Object
	// Validate checks the object can be served. Problems that may resolve on
	// their own (a secret not created yet) are reported as retryable.
	Validate(ctx context.Context, reader client.Reader, scheme *runtime.Scheme) error
	GetStatus() SimpleStatus
	SetStatus(status SimpleStatus)
	GetPhase() Phase
}

// Phase is the current phase of the object.
type Phase string

const (
	// PhasePending means the object has been created but is not ready for use.
	PhasePending Phase = "Pending"
	// PhaseReady means the object is ready for use.
	PhaseReady Phase = "Ready"
	// PhaseFailed means the object has failed.
	PhaseFailed Phase = "Failed"
)

// SimpleStatus is a basic status type that can be reused across multiple types.
// +kubebuilder:object:generate=true
type SimpleStatus struct {
	// Phase is the current phase of the object.
	Phase Phase `json:"phase,omitempty"`
	// ObservedGeneration is the most recent generation observed for this object by the controller.
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`
	// Message is a human readable message indicating details about why the object is in this condition.
	Message string `json:"message,omitempty"`
}

// SecretValue returns the value of key in a resolved secret reference, or of
// DefaultSecretKey when key is empty. The boolean is false when the key does
// not exist.
func SecretValue(obj runtime.Object, key string) ([]byte, bool, error) {
	secret, ok := obj.(*corev1.Secret)
	if !ok {
		return nil, false, fmt.Errorf("referenced object is a %T, not a secret", obj)
	}

	if key == "" {
		key = DefaultSecretKey
	}

	value, ok := secret.Data[key]
	return value, ok, nil
}
