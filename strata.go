// Package strata provides versioned entity persistence with a full audit
// trail. Entities embed entity.Meta, repositories enforce optimistic
// concurrency and mirror every prior revision to an audit table, and
// change events fan out through NATS or SQS.
//
// Open wires a configured backend, publisher, and audit archiver into a
// single handle; NewRepository builds typed repositories on top of it.
package strata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadencehq/strata/archive"
	"github.com/cadencehq/strata/config"
	"github.com/cadencehq/strata/notify"
	"github.com/cadencehq/strata/repo"
	"github.com/cadencehq/strata/storage"
	"github.com/cadencehq/strata/storage/badgerdb"
	"github.com/cadencehq/strata/storage/memory"
	"github.com/cadencehq/strata/storage/postgres"
	"github.com/cadencehq/strata/storage/sqlite"
)

// DB bundles the storage port, the change publisher, and the audit
// archiver for one configured deployment.
type DB struct {
	Port      storage.Port
	Publisher notify.Publisher

	cfg       *config.Config
	scheduler *archive.Scheduler
	logger    *slog.Logger
}

// Open builds a DB from configuration: storage backend, publisher, and,
// when configured, the periodic audit archiver.
func Open(ctx context.Context, cfg *config.Config) (*DB, error) {
	port, err := openPort(cfg)
	if err != nil {
		return nil, err
	}

	pub, err := openPublisher(ctx, cfg)
	if err != nil {
		port.Close()
		return nil, err
	}

	db := &DB{
		Port:      port,
		Publisher: pub,
		cfg:       cfg,
		logger:    slog.Default(),
	}

	if interval := time.Duration(cfg.ArchiveInterval); interval > 0 {
		dests, err := archiveDestinations(ctx, cfg)
		if err != nil {
			db.Close()
			return nil, err
		}
		if len(dests) > 0 {
			db.scheduler = archive.NewScheduler(port, cfg.ArchiveTables, dests, interval, db.logger)
			db.scheduler.Start()
		}
	}
	return db, nil
}

// Close stops the archiver and releases the publisher and the storage
// backend.
func (db *DB) Close() error {
	if db.scheduler != nil {
		db.scheduler.Stop()
	}
	if err := db.Publisher.Close(); err != nil {
		db.logger.Warn("closing publisher", "err", err)
	}
	return db.Port.Close()
}

// NewRepository builds a typed repository on the DB's port and publisher.
// The actor and audit settings come from configuration unless overridden
// in opts.
func NewRepository[T any](db *DB, opts repo.Options) (*repo.Repository[T], error) {
	if opts.Actor == "" {
		opts.Actor = db.cfg.Actor
	}
	// With SQS the topic is the queue name; all repositories share it
	// unless a queue is set per repository.
	if opts.Topic == "" && db.cfg.SQSQueue != "" {
		opts.Topic = db.cfg.SQSQueue
	}
	if !opts.DisableAudit {
		opts.DisableAudit = db.cfg.DisableAudit
	}
	return repo.New[T](db.Port, db.Publisher, opts)
}

func openPort(cfg *config.Config) (storage.Port, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		return postgres.New(cfg.DatabaseURL, postgres.Options{})
	case config.BackendSQLite:
		return sqlite.New(cfg.SQLitePath, "")
	case config.BackendBadger:
		return badgerdb.Open(cfg.BadgerPath)
	case config.BackendMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func openPublisher(ctx context.Context, cfg *config.Config) (notify.Publisher, error) {
	switch {
	case cfg.NATSURL != "":
		return notify.NewNATSPublisher(cfg.NATSURL)
	case cfg.SQSQueue != "":
		return notify.NewSQSPublisher(ctx, cfg.SQSRegion, cfg.SQSEndpoint)
	default:
		return &notify.NoopPublisher{}, nil
	}
}

func archiveDestinations(ctx context.Context, cfg *config.Config) ([]archive.Destination, error) {
	var dests []archive.Destination
	if cfg.ArchiveFile != "" {
		d, err := archive.NewFileDestination(cfg.ArchiveFile)
		if err != nil {
			return nil, err
		}
		dests = append(dests, d)
	}
	if cfg.ArchiveS3Bucket != "" {
		d, err := archive.NewS3Destination(ctx, cfg.ArchiveS3Bucket, cfg.ArchiveS3Prefix, cfg.ArchiveS3Region, cfg.ArchiveS3Endpoint)
		if err != nil {
			return nil, err
		}
		dests = append(dests, d)
	}
	return dests, nil
}
