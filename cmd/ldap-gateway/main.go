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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ldapv1alpha1 "github.com/gpu-ninja/ldap-gateway/api/v1alpha1"
	"github.com/gpu-ninja/ldap-gateway/internal/backend"
	"github.com/gpu-ninja/ldap-gateway/internal/backend/fake"
	"github.com/gpu-ninja/ldap-gateway/internal/backend/file"
	"github.com/gpu-ninja/ldap-gateway/internal/backend/kubernetes"
	"github.com/gpu-ninja/ldap-gateway/internal/backend/rest"
	"github.com/gpu-ninja/ldap-gateway/internal/backend/upstream"
	"github.com/gpu-ninja/ldap-gateway/internal/config"
	"github.com/gpu-ninja/ldap-gateway/internal/controller"
	"github.com/gpu-ninja/ldap-gateway/internal/directory"
	"github.com/gpu-ninja/ldap-gateway/internal/gateway"
	"github.com/gpu-ninja/ldap-gateway/internal/mapper"
	"github.com/gpu-ninja/ldap-gateway/internal/metrics"
	"github.com/gpu-ninja/ldap-gateway/internal/naming"
	"github.com/gpu-ninja/ldap-gateway/internal/server"
	"github.com/gpu-ninja/ldap-gateway/internal/util"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/clientcmd"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const metricsShutdownTimeout = 5 * time.Second

type flags struct {
	configPath string
	logLevel   string
	logFormat  string
	listen     string
}

func main() {
	var f flags
	pflag.StringVarP(&f.configPath, "config", "c", "/etc/ldap-gateway/config.yaml", "Path to the configuration file.")
	pflag.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error), overrides the configuration file.")
	pflag.StringVar(&f.logFormat, "log-format", "", "Log format (json, logfmt, console), overrides the configuration file.")
	pflag.StringVar(&f.listen, "listen", "", "LDAP listen address, overrides the configuration file.")
	pflag.Parse()

	if err := run(f); err != nil {
		fmt.Fprintf(os.Stderr, "ldap-gateway: %v\n", err)
		os.Exit(1)
	}
}

func run(f flags) error {
	conf, err := config.Load(f.configPath)
	if err != nil {
		return err
	}

	if f.logLevel != "" {
		conf.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		conf.Log.Format = f.logFormat
	}
	if f.listen != "" {
		conf.Listen.Address = f.listen
	}

	logger, err := util.BuildLogger(conf.Log.Level, conf.Log.Format)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	zap.ReplaceGlobals(logger)
	ctrl.SetLogger(util.NewLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx = util.IntoContext(ctx, logger)

	var recorder metrics.Recorder = metrics.NewNoopRecorder()
	var promRecorder *metrics.PrometheusRecorder
	if conf.Metrics.Address != "" {
		promRecorder = metrics.NewPrometheusRecorder()
		recorder = promRecorder
	}

	translator, err := naming.NewTranslator(conf.Directory.TranslatorOptions())
	if err != nil {
		return fmt.Errorf("failed to create dn translator: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	// The cache is created after the backend, but watchers started by the
	// backend need to push into it.
	var snapshots *directory.Cache
	onChange := func(users, groups []backend.Record) {
		snapshots.OnChange()(users, groups)
	}

	b, start, err := newBackend(conf, logger, onChange)
	if err != nil {
		return err
	}

	snapshots = directory.NewCache(b, mapper.New(translator), directory.CacheOptions{
		TTL:      conf.Cache.TTL.Duration,
		Logger:   logger.Named("cache"),
		Recorder: recorder,
	})

	tlsConfig, err := conf.Listen.LoadTLS()
	if err != nil {
		return err
	}

	readTimeout, writeTimeout := conf.Listen.Timeouts()
	srv, err := server.New(
		gateway.NewBindProcessor(translator, b, recorder, logger.Named("bind")),
		gateway.NewSearchProcessor(translator, snapshots, recorder, logger.Named("search")),
		server.Options{
			Address:      conf.Listen.Address,
			TLSConfig:    tlsConfig,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			Logger:       logger.Named("server"),
		})
	if err != nil {
		return err
	}

	logger.Info("Starting LDAP gateway",
		zap.String("backend", conf.Backend.Type),
		zap.String("baseDN", conf.Directory.BaseDN),
		zap.Duration("cacheTTL", conf.Cache.TTL.Duration))

	g.Go(func() error {
		snapshots.Run(ctx, conf.Cache.PurgeInterval.Duration)
		return nil
	})

	if start != nil {
		g.Go(func() error {
			return start(ctx)
		})
	}

	if promRecorder != nil {
		g.Go(func() error {
			return serveMetrics(ctx, conf.Metrics.Address, promRecorder.Handler(), logger)
		})
	}

	g.Go(func() error {
		return srv.Run(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("LDAP gateway stopped")

	return nil
}

// newBackend builds the configured backend. The returned function, when not
// nil, runs the backend's change watcher until ctx is done.
func newBackend(conf *config.Config, logger *zap.Logger, onChange backend.ChangeFunc) (backend.Backend, func(context.Context) error, error) {
	switch conf.Backend.Type {
	case config.BackendREST:
		opts := conf.Backend.REST.RESTOptions()
		opts.Logger = util.NewHCLogger(logger.Named("rest"), "rest")

		b, err := rest.New(opts)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create rest backend: %w", err)
		}

		return b, nil, nil
	case config.BackendFile:
		b, err := file.New(conf.Backend.File.Path, logger.Named("file"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create file backend: %w", err)
		}

		if !conf.Backend.File.Watch {
			return b, nil, nil
		}

		return b, func(ctx context.Context) error {
			return b.Watch(ctx, file.DefaultDebounce, onChange)
		}, nil
	case config.BackendLDAP:
		opts := conf.Backend.LDAP.UpstreamOptions()
		opts.Logger = logger.Named("upstream")

		b, err := upstream.New(opts)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create ldap backend: %w", err)
		}

		return b, nil, nil
	case config.BackendKubernetes:
		return newKubernetesBackend(conf.Backend.Kubernetes, logger, onChange)
	case config.BackendFake:
		b := fake.NewBackend()
		if f := conf.Backend.Fake; f != nil {
			b.WithPrincipals(f.Users, f.Services, f.Groups)
		}

		return b, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend type %q", conf.Backend.Type)
	}
}

func newKubernetesBackend(conf *config.KubernetesConfig, logger *zap.Logger, onChange backend.ChangeFunc) (backend.Backend, func(context.Context) error, error) {
	restConfig, err := clientcmd.BuildConfigFromFlags("", conf.Kubeconfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}

	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		return nil, nil, err
	}
	if err := ldapv1alpha1.AddToScheme(scheme); err != nil {
		return nil, nil, err
	}

	if !conf.Watch {
		c, err := client.New(restConfig, client.Options{Scheme: scheme})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create kubernetes client: %w", err)
		}

		return kubernetes.New(c, scheme, conf.Namespace, logger.Named("kubernetes")), nil, nil
	}

	mgr, err := ctrl.NewManager(restConfig, ctrl.Options{
		Scheme:                 scheme,
		MetricsBindAddress:     "0",
		HealthProbeBindAddress: "0",
		Cache: cache.Options{
			Namespaces: []string{conf.Namespace},
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create manager: %w", err)
	}

	b := kubernetes.New(mgr.GetClient(), mgr.GetScheme(), conf.Namespace, logger.Named("kubernetes"))

	refresh := func(ctx context.Context) error {
		return b.Sync(ctx, onChange)
	}

	if err := (&controller.IdentityReconciler[*ldapv1alpha1.LDAPUser]{
		Client:        mgr.GetClient(),
		Scheme:        mgr.GetScheme(),
		EventRecorder: mgr.GetEventRecorderFor("ldap-gateway"),
		Refresh:       refresh,
	}).SetupWithManager(mgr); err != nil {
		return nil, nil, fmt.Errorf("failed to setup user controller: %w", err)
	}

	if err := (&controller.IdentityReconciler[*ldapv1alpha1.LDAPGroup]{
		Client:        mgr.GetClient(),
		Scheme:        mgr.GetScheme(),
		EventRecorder: mgr.GetEventRecorderFor("ldap-gateway"),
		Refresh:       refresh,
	}).SetupWithManager(mgr); err != nil {
		return nil, nil, fmt.Errorf("failed to setup group controller: %w", err)
	}

	return b, mgr.Start, nil
}

func serveMetrics(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to shutdown metrics server", zap.Error(err))
		}
	}()

	logger.Info("Serving metrics", zap.String("address", addr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}

	return nil
}
