/*
Copyright 2024 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package service wires the pulse process together: storage backend,
// resource services, snapshot store, providers, sync engine and the
// HTTP API server.
package service

import (
	"context"
	"net/http"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/gravitational/pulse"
	"github.com/gravitational/pulse/lib/backend"
	"github.com/gravitational/pulse/lib/backend/lite"
	"github.com/gravitational/pulse/lib/backend/memory"
	"github.com/gravitational/pulse/lib/config"
	"github.com/gravitational/pulse/lib/services"
	"github.com/gravitational/pulse/lib/services/local"
	"github.com/gravitational/pulse/lib/store"
	"github.com/gravitational/pulse/lib/sync"
	"github.com/gravitational/pulse/lib/timeline"
	"github.com/gravitational/pulse/lib/web"
)

// shutdownTimeout bounds the graceful HTTP server drain.
const shutdownTimeout = 10 * time.Second

// Process is one running pulse instance.
type Process struct {
	cfg       *config.Config
	backend   backend.Backend
	identity  *local.IdentityService
	store     *store.Store
	assembler *timeline.Assembler
	scheduler *sync.Scheduler
	handler   *web.Handler
	log       *log.Entry
}

// NewProcess assembles a pulse process from the configuration.
func NewProcess(cfg *config.Config) (*Process, error) {
	if cfg == nil {
		return nil, trace.BadParameter("missing configuration")
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	b, err := newBackend(cfg)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	identity := local.NewIdentityService(b)
	snapshots := store.New(b)

	assembler, err := timeline.NewAssembler(timeline.Config{
		Identity: identity,
		Store:    snapshots,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	processor, err := sync.NewProcessor(sync.ProcessorConfig{
		Identity: identity,
		Limits:   identity,
		Store:    snapshots,
		Key:      cfg.EncryptionKey,
		Providers: &providerFactory{
			identity: identity,
			key:      cfg.EncryptionKey,
			clients:  cfg.OAuthClients,
		},
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	scheduler, err := sync.NewScheduler(sync.SchedulerConfig{
		Identity:  identity,
		Processor: processor,
		Assembler: assembler,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	auth, err := web.NewAuthService(web.AuthConfig{
		IdentityURL: cfg.DevpadURL,
		Identity:    identity,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	handler, err := web.NewHandler(web.Config{
		Identity:       identity,
		Limits:         identity,
		Store:          snapshots,
		Assembler:      assembler,
		Syncer:         scheduler,
		Auth:           auth,
		Key:            cfg.EncryptionKey,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &Process{
		cfg:       cfg,
		backend:   b,
		identity:  identity,
		store:     snapshots,
		assembler: assembler,
		scheduler: scheduler,
		handler:   handler,
		log:       log.WithFields(log.Fields{pulse.Component: "process"}),
	}, nil
}

func newBackend(cfg *config.Config) (backend.Backend, error) {
	if cfg.StoragePath != "" {
		b, err := lite.New(lite.Config{Path: cfg.StoragePath})
		return b, trace.Wrap(err)
	}
	b, err := memory.New(memory.Config{Clock: clockwork.NewRealClock()})
	return b, trace.Wrap(err)
}

// Run starts the cron scheduler and serves the API until the context
// is canceled.
func (p *Process) Run(ctx context.Context) error {
	go p.scheduler.Run(ctx)

	server := &http.Server{
		Addr:    p.cfg.ListenAddr,
		Handler: p.handler,
	}
	errC := make(chan error, 1)
	go func() {
		p.log.Infof("Pulse %v serving on %v.", pulse.Version, p.cfg.ListenAddr)
		errC <- server.ListenAndServe()
	}()

	select {
	case err := <-errC:
		return trace.Wrap(err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		p.log.WithError(err).Warn("HTTP server shutdown did not drain cleanly.")
	}
	// let queued refresh tasks finish before the backend goes away
	p.scheduler.Wait()
	return trace.Wrap(p.Close())
}

// Close releases the process resources.
func (p *Process) Close() error {
	return trace.Wrap(p.backend.Close())
}

// Handler exposes the HTTP API handler, used by tests.
func (p *Process) Handler() http.Handler {
	return p.handler
}

// Identity exposes the resource service, used by tests.
func (p *Process) Identity() services.Identity {
	return p.identity
}
