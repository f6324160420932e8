package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"scrap-pickup-api/models"
)

// Store exposes the four collections over whichever backend won at startup.
type Store struct {
	backend Backend

	Users      *Repo[models.User, *models.User]
	Dealers    *Repo[models.Dealer, *models.Dealer]
	ScrapTypes *Repo[models.ScrapType, *models.ScrapType]
	Requests   *Repo[models.Request, *models.Request]
}

// New binds the typed collections to backend.
func New(backend Backend) *Store {
	return &Store{
		backend:    backend,
		Users:      NewRepo[models.User](backend, Users),
		Dealers:    NewRepo[models.Dealer](backend, Dealers),
		ScrapTypes: NewRepo[models.ScrapType](backend, ScrapTypes),
		Requests:   NewRepo[models.Request](backend, Requests),
	}
}

func (s *Store) Backend() Backend { return s.backend }

func (s *Store) BackendName() string { return s.backend.Name() }

func (s *Store) Close() error { return s.backend.Close() }

// Options selects and configures the backends.
type Options struct {
	RemoteDriver  string
	RemoteDSN     string
	RemoteTimeout time.Duration
	DataFile      string
}

// Open picks the backend once for the process lifetime. The remote store is
// used when it connects and answers one read probe; otherwise the file
// backend takes over and the remote is never retried.
func Open(ctx context.Context, opts Options, log *zap.Logger) (*Store, error) {
	var primary Backend
	if opts.RemoteDSN != "" {
		remote, err := OpenRemote(opts.RemoteDriver, opts.RemoteDSN, opts.RemoteTimeout, log)
		if err != nil {
			log.Warn("remote backend disabled for this process",
				zap.Error(fmt.Errorf("%w: %v", models.ErrBackendUnavailable, err)))
		} else {
			primary = remote
		}
	} else {
		log.Info("no remote backend configured")
	}

	return Choose(ctx, primary, func() (Backend, error) {
		return OpenFileBackend(opts.DataFile)
	}, log)
}

// Choose probes primary and falls back when it is nil or the probe fails.
func Choose(ctx context.Context, primary Backend, fallback func() (Backend, error), log *zap.Logger) (*Store, error) {
	if primary != nil {
		err := primary.Probe(ctx)
		if err == nil {
			log.Info("using backend", zap.String("backend", primary.Name()))
			return New(primary), nil
		}
		log.Warn("remote backend disabled for this process",
			zap.String("backend", primary.Name()),
			zap.Error(fmt.Errorf("%w: %v", models.ErrBackendUnavailable, err)))
		if cerr := primary.Close(); cerr != nil {
			log.Debug("close failed backend", zap.Error(cerr))
		}
	}

	backend, err := fallback()
	if err != nil {
		return nil, fmt.Errorf("open fallback backend: %w", err)
	}
	log.Info("using backend", zap.String("backend", backend.Name()))
	return New(backend), nil
}
