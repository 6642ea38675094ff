package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ehr/medledger/internal/config"
	"github.com/ehr/medledger/internal/domain/access"
	"github.com/ehr/medledger/internal/domain/audit"
	"github.com/ehr/medledger/internal/domain/consent"
	"github.com/ehr/medledger/internal/domain/registry"
	"github.com/ehr/medledger/internal/platform/blobstore"
	"github.com/ehr/medledger/internal/platform/db"
	"github.com/ehr/medledger/internal/platform/kv"
)

// stores holds one repository per component on the configured backend.
type stores struct {
	roles    access.Repository
	consents consent.Repository
	entries  registry.Repository
	trail    audit.Repository
	blobs    blobstore.BlobStore

	pool    *pgxpool.Pool
	closers []func() error
}

func (s *stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	s := &stores{}
	switch cfg.StoreBackend {
	case config.BackendMemory:
		s.roles = access.NewMemRepo()
		s.consents = consent.NewMemRepo()
		s.entries = registry.NewMemRepo()
		s.trail = audit.NewMemRepo()
		s.blobs = blobstore.NewInMemoryBlobStore()
		logger.Warn().Msg("using in-memory store; ledger state is lost on restart")

	case config.BackendLevelDB:
		store, err := kv.Open(cfg.LevelDBPath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, store.Close)
		s.roles = access.NewRepoLevelDB(store)
		s.consents = consent.NewRepoLevelDB(store)
		s.entries = registry.NewRepoLevelDB(store)
		s.trail = audit.NewRepoLevelDB(store)
		s.blobs = blobstore.NewLevelDBBlobStore(store)
		logger.Info().Str("path", cfg.LevelDBPath).Msg("opened leveldb ledger")

	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		s.pool = pool
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
		s.roles = access.NewRepoPG(pool)
		s.consents = consent.NewRepoPG(pool)
		s.entries = registry.NewRepoPG(pool)
		s.trail = audit.NewRepoPG(pool)
		logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

		// Ciphertext stays out of postgres; it lives in a local blob store.
		blobs, err := kv.Open(cfg.LevelDBPath)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open blob store: %w", err)
		}
		s.closers = append(s.closers, blobs.Close)
		s.blobs = blobstore.NewLevelDBBlobStore(blobs)

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	return s, nil
}
