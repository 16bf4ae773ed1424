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

package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/gpu-ninja/ldap-gateway/internal/backend"
	"github.com/gpu-ninja/ldap-gateway/internal/backend/fake"
	"github.com/gpu-ninja/ldap-gateway/internal/backend/rest"
	"github.com/gpu-ninja/ldap-gateway/internal/backend/upstream"
	"github.com/gpu-ninja/ldap-gateway/internal/constants"
	"github.com/gpu-ninja/ldap-gateway/internal/directory"
	"github.com/gpu-ninja/ldap-gateway/internal/naming"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"sigs.k8s.io/yaml"
)

const (
	BackendREST       = "rest"
	BackendFile       = "file"
	BackendKubernetes = "kubernetes"
	BackendFake       = "fake"
	BackendLDAP       = "ldap"
)

type Config struct {
	Listen    ListenConfig    `json:"listen"`
	Metrics   MetricsConfig   `json:"metrics"`
	Log       LogConfig       `json:"log"`
	Directory DirectoryConfig `json:"directory"`
	Cache     CacheConfig     `json:"cache"`
	Backend   BackendConfig   `json:"backend"`
}

type ListenConfig struct {
	Address      string          `json:"address,omitempty"`
	TLS          *TLSConfig      `json:"tls,omitempty"`
	ReadTimeout  metav1.Duration `json:"readTimeout,omitempty"`
	WriteTimeout metav1.Duration `json:"writeTimeout,omitempty"`
}

type TLSConfig struct {
	CertFile string `json:"certFile"`
	KeyFile  string `json:"keyFile"`
}

type MetricsConfig struct {
	// Address of the metrics listener, empty disables it.
	Address string `json:"address,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"`
}

type DirectoryConfig struct {
	BaseDN             string `json:"baseDN"`
	UsersDN            string `json:"usersDN,omitempty"`
	ServicesDN         string `json:"servicesDN,omitempty"`
	GroupsDN           string `json:"groupsDN,omitempty"`
	NameAttribute      string `json:"nameAttribute,omitempty"`
	GroupNameAttribute string `json:"groupNameAttribute,omitempty"`
}

type CacheConfig struct {
	TTL           metav1.Duration `json:"ttl,omitempty"`
	PurgeInterval metav1.Duration `json:"purgeInterval,omitempty"`
}

type BackendConfig struct {
	Type       string            `json:"type"`
	REST       *RESTConfig       `json:"rest,omitempty"`
	File       *FileConfig       `json:"file,omitempty"`
	Kubernetes *KubernetesConfig `json:"kubernetes,omitempty"`
	Fake       *FakeConfig       `json:"fake,omitempty"`
	LDAP       *LDAPConfig       `json:"ldap,omitempty"`
}

type RESTConfig struct {
	URL             string          `json:"url"`
	Timeout         metav1.Duration `json:"timeout,omitempty"`
	MaxRetries      *int            `json:"maxRetries,omitempty"`
	CAFile          string          `json:"caFile,omitempty"`
	UserAuthPath    string          `json:"userAuthPath,omitempty"`
	ServiceAuthPath string          `json:"serviceAuthPath,omitempty"`
	UsersPath       string          `json:"usersPath,omitempty"`
	GroupsPath      string          `json:"groupsPath,omitempty"`
	ResultsKey      string          `json:"resultsKey,omitempty"`
}

type FileConfig struct {
	Path  string `json:"path"`
	Watch bool   `json:"watch,omitempty"`
}

type KubernetesConfig struct {
	// Kubeconfig is optional, the in-cluster config is used when empty.
	Kubeconfig string `json:"kubeconfig,omitempty"`
	Namespace  string `json:"namespace"`
	// Watch runs a controller that refreshes the cache on every change.
	Watch bool `json:"watch,omitempty"`
}

// LDAPConfig configures an upstream directory to proxy.
type LDAPConfig struct {
	URL            string          `json:"url"`
	CAFile         string          `json:"caFile,omitempty"`
	Timeout        metav1.Duration `json:"timeout,omitempty"`
	UsersDN        string          `json:"usersDN"`
	ServicesDN     string          `json:"servicesDN,omitempty"`
	GroupsDN       string          `json:"groupsDN,omitempty"`
	UserAttribute  string          `json:"userAttribute,omitempty"`
	GroupAttribute string          `json:"groupAttribute,omitempty"`
	UserFilter     string          `json:"userFilter,omitempty"`
	GroupFilter    string          `json:"groupFilter,omitempty"`
}

type FakeConfig struct {
	Users    []fake.Principal `json:"users,omitempty"`
	Services []fake.Principal `json:"services,omitempty"`
	Groups   []backend.Record `json:"groups,omitempty"`
}

// Load reads, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return Parse(data)
}

// Parse decodes, defaults and validates a YAML or JSON configuration.
func Parse(data []byte) (*Config, error) {
	var conf Config
	if err := yaml.UnmarshalStrict(data, &conf); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	conf.SetDefaults()

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return &conf, nil
}

func (c *Config) SetDefaults() {
	if c.Listen.Address == "" {
		c.Listen.Address = constants.DefaultListenAddress
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	d := &c.Directory
	if d.UsersDN == "" {
		d.UsersDN = branchDN("users", d.BaseDN)
	}
	if d.ServicesDN == "" {
		d.ServicesDN = branchDN("services", d.BaseDN)
	}
	if d.GroupsDN == "" {
		d.GroupsDN = branchDN("groups", d.BaseDN)
	}
	if d.NameAttribute == "" {
		d.NameAttribute = "uid"
	}

	if c.Cache.TTL.Duration == 0 {
		c.Cache.TTL.Duration = directory.DefaultTTL
	}
	if c.Cache.PurgeInterval.Duration == 0 {
		c.Cache.PurgeInterval.Duration = constants.DefaultPurgeInterval
	}

	if r := c.Backend.REST; r != nil {
		if r.Timeout.Duration == 0 {
			r.Timeout.Duration = rest.DefaultTimeout
		}
		if r.MaxRetries == nil {
			retries := rest.DefaultMaxRetries
			r.MaxRetries = &retries
		}
	}
}

func branchDN(ou, baseDN string) string {
	if baseDN == "" {
		return "ou=" + ou
	}
	return "ou=" + ou + "," + baseDN
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Directory.BaseDN == "" {
		errs = append(errs, errors.New("directory.baseDN is required"))
	}
	if _, err := naming.NewTranslator(c.Directory.TranslatorOptions()); err != nil {
		errs = append(errs, fmt.Errorf("directory: %w", err))
	}

	if c.Cache.TTL.Duration < 0 {
		errs = append(errs, errors.New("cache.ttl must not be negative"))
	}
	if c.Cache.PurgeInterval.Duration < 0 {
		errs = append(errs, errors.New("cache.purgeInterval must not be negative"))
	}

	if t := c.Listen.TLS; t != nil && (t.CertFile == "" || t.KeyFile == "") {
		errs = append(errs, errors.New("listen.tls requires certFile and keyFile"))
	}

	switch c.Backend.Type {
	case BackendREST:
		if c.Backend.REST == nil || c.Backend.REST.URL == "" {
			errs = append(errs, errors.New("backend.rest.url is required"))
		} else if u, err := url.Parse(c.Backend.REST.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("backend.rest.url %q must be an http or https url", c.Backend.REST.URL))
		}
		if c.Backend.REST != nil && c.Backend.REST.MaxRetries != nil && *c.Backend.REST.MaxRetries < 0 {
			errs = append(errs, errors.New("backend.rest.maxRetries must not be negative"))
		}
	case BackendFile:
		if c.Backend.File == nil || c.Backend.File.Path == "" {
			errs = append(errs, errors.New("backend.file.path is required"))
		}
	case BackendKubernetes:
		if c.Backend.Kubernetes == nil || c.Backend.Kubernetes.Namespace == "" {
			errs = append(errs, errors.New("backend.kubernetes.namespace is required"))
		}
	case BackendLDAP:
		if c.Backend.LDAP == nil || c.Backend.LDAP.URL == "" {
			errs = append(errs, errors.New("backend.ldap.url is required"))
		}
		if c.Backend.LDAP == nil || c.Backend.LDAP.UsersDN == "" {
			errs = append(errs, errors.New("backend.ldap.usersDN is required"))
		}
	case BackendFake:
	case "":
		errs = append(errs, errors.New("backend.type is required"))
	default:
		errs = append(errs, fmt.Errorf("unknown backend type %q", c.Backend.Type))
	}

	return utilerrors.NewAggregate(errs)
}

// TranslatorOptions returns the options of the DN translator.
func (d DirectoryConfig) TranslatorOptions() naming.Options {
	return naming.Options{
		BaseDN:             d.BaseDN,
		UsersDN:            d.UsersDN,
		ServicesDN:         d.ServicesDN,
		GroupsDN:           d.GroupsDN,
		NameAttribute:      d.NameAttribute,
		GroupNameAttribute: d.GroupNameAttribute,
	}
}

// RESTOptions returns the options of the REST backend.
func (r *RESTConfig) RESTOptions() rest.Options {
	opts := rest.Options{
		URL:             r.URL,
		Timeout:         r.Timeout.Duration,
		CAFile:          r.CAFile,
		UserAuthPath:    r.UserAuthPath,
		ServiceAuthPath: r.ServiceAuthPath,
		UsersPath:       r.UsersPath,
		GroupsPath:      r.GroupsPath,
		ResultsKey:      r.ResultsKey,
	}
	if r.MaxRetries != nil {
		opts.MaxRetries = *r.MaxRetries
	}

	return opts
}

// UpstreamOptions returns the options of the upstream directory backend.
func (l *LDAPConfig) UpstreamOptions() upstream.Options {
	return upstream.Options{
		URL:            l.URL,
		CAFile:         l.CAFile,
		Timeout:        l.Timeout.Duration,
		UsersDN:        l.UsersDN,
		ServicesDN:     l.ServicesDN,
		GroupsDN:       l.GroupsDN,
		UserAttribute:  l.UserAttribute,
		GroupAttribute: l.GroupAttribute,
		UserFilter:     l.UserFilter,
		GroupFilter:    l.GroupFilter,
	}
}

// LoadTLS loads the listener certificate, nil when TLS is not configured.
func (l ListenConfig) LoadTLS() (*tls.Config, error) {
	if l.TLS == nil {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(l.TLS.CertFile, l.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load tls key pair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Timeouts returns the read and write timeouts of the listener.
func (l ListenConfig) Timeouts() (time.Duration, time.Duration) {
	return l.ReadTimeout.Duration, l.WriteTimeout.Duration
}
