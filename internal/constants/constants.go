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

package constants

import "time"

const (
	// ReconcileRetryInterval is how long to wait before retrying an object
	// whose references are not resolvable yet.
	ReconcileRetryInterval = 10 * time.Second
	// DefaultListenAddress is the LDAP listener address.
	DefaultListenAddress = ":10389"
	// DefaultMetricsAddress is the metrics listener address.
	DefaultMetricsAddress = ":9090"
	// DefaultPurgeInterval is how often expired snapshots are purged.
	DefaultPurgeInterval = time.Minute
)
