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

package v1alpha1

import (
	"context"
	"fmt"

	"github.com/gpu-ninja/ldap-gateway/api"
	"github.com/gpu-ninja/ldap-gateway/internal/util"
	"github.com/gpu-ninja/operator-utils/reference"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	runtime "k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

type LDAPUserSpec struct {
	// Username is the username (uid) for this user.
	Username string `json:"username"`
	// Name is the full name of this user (commonName).
	Name string `json:"name,omitempty"`
	// FirstName is the given name of this user.
	FirstName string `json:"firstName,omitempty"`
	// Surname is the surname of this user.
	Surname string `json:"surname,omitempty"`
	// DisplayName is an optional display name of this user.
	DisplayName string `json:"displayName,omitempty"`
	// Email is an optional email address of this user.
	Email string `json:"email,omitempty"`
	// TelephoneNumber is an optional telephone number of this user.
	TelephoneNumber string `json:"telephoneNumber,omitempty"`
	// Active controls whether the user may bind, defaults to true.
	Active *bool `json:"active,omitempty"`
	// ServiceAccount marks the user as a service account. Service accounts
	// bind under the services branch and are not listed as users.
	ServiceAccount bool `json:"serviceAccount,omitempty"`
	// PasswordSecretRef is a reference to a secret containing the password of the user.
	PasswordSecretRef *reference.LocalSecretReference `json:"passwordSecretRef,omitempty"`
	// PasswordSecretKey is the key of the password within the secret, defaults to "password".
	PasswordSecretKey string `json:"passwordSecretKey,omitempty"`
}

// LDAPUser is a user or service account served by the gateway.
// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Username",type=string,JSONPath=`.spec.username`
// +kubebuilder:printcolumn:name="Status",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`
type LDAPUser struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   LDAPUserSpec     `json:"spec,omitempty"`
	Status api.SimpleStatus `json:"status,omitempty"`
}

// LDAPUserList contains a list of LDAPUser
// +kubebuilder:object:root=true
type LDAPUserList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []LDAPUser `json:"items"`
}

// IsActive reports whether the user may bind.
func (u *LDAPUser) IsActive() bool {
	return u.Spec.Active == nil || *u.Spec.Active
}

// Password returns the user's password. The boolean is false when the user
// has no password or the referenced secret does not exist yet.
func (u *LDAPUser) Password(ctx context.Context, reader client.Reader, scheme *runtime.Scheme) ([]byte, bool, error) {
	if u.Spec.PasswordSecretRef == nil {
		return nil, false, nil
	}

	secret, ok, err := u.Spec.PasswordSecretRef.Resolve(ctx, reader, scheme, u)
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve password secret reference: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	return api.SecretValue(secret, u.Spec.PasswordSecretKey)
}

func (u *LDAPUser) Validate(ctx context.Context, reader client.Reader, scheme *runtime.Scheme) error {
	if u.Spec.Username == "" {
		return fmt.Errorf("username is required")
	}

	if u.Spec.PasswordSecretRef == nil {
		return nil
	}

	_, ok, err := u.Password(ctx, reader, scheme)
	if err != nil {
		return util.Retryable(err)
	}
	if !ok {
		return util.Retryable(fmt.Errorf("referenced password secret %q not found", u.Spec.PasswordSecretRef.Name))
	}

	return nil
}

func (u *LDAPUser) GetStatus() api.SimpleStatus {
	return u.Status
}

func (u *LDAPUser) SetStatus(status api.SimpleStatus) {
	u.Status = status
}

func (u *LDAPUser) GetPhase() api.Phase {
	return u.Status.Phase
}

func init() {
	SchemeBuilder.Register(&LDAPUser{}, &LDAPUserList{})
}
