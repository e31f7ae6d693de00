package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"
	"github.com/sicko7947/world"
	"github.com/sicko7947/world/store"
)

// backendSet is an opened set of backends, the schema steps they need and
// the resources to release
type backendSet struct {
	world.Backends
	migrations []func(ctx context.Context, wait time.Duration) error
	closers    []func() error
}

// Migrate creates the tables of every opened backend. wait bounds how long a
// new DynamoDB table may take to become active.
func (b *backendSet) Migrate(ctx context.Context, wait time.Duration) error {
	for _, migrate := range b.migrations {
		if err := migrate(ctx, wait); err != nil {
			return err
		}
	}
	return nil
}

func sqlMigration(db *store.SQLStore) func(context.Context, time.Duration) error {
	return func(ctx context.Context, _ time.Duration) error {
		return db.Migrate(ctx)
	}
}

// Close releases every opened resource
func (b *backendSet) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openBackends builds the row store, lanes and blob store for cfg
func openBackends(ctx context.Context, cfg Config, logger zerolog.Logger) (*backendSet, error) {
	switch cfg.Backend {
	case BackendMemory:
		return &backendSet{Backends: world.Backends{
			Rows:         store.NewMemoryStore(),
			WorkflowLane: store.NewMemoryLane(store.WithVisibilityTimeout(cfg.VisibilityTimeout)),
			StepLane:     store.NewMemoryLane(store.WithVisibilityTimeout(cfg.VisibilityTimeout)),
			Blobs:        store.NewMemoryBlobStore(),
		}}, nil

	case BackendSQL:
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		set := &backendSet{closers: []func() error{db.Close}}
		set.migrations = append(set.migrations, sqlMigration(db))
		set.Rows = db
		set.WorkflowLane, set.StepLane = sqlLanes(db, cfg)
		set.Blobs = store.NewSQLBlobStore(db, cfg.StreamBucket)
		return set, nil

	case BackendDynamoDB:
		client, err := newDynamoDBClient(ctx, cfg.DynamoDB)
		if err != nil {
			return nil, err
		}
		set := &backendSet{}
		set.migrations = append(set.migrations, func(ctx context.Context, wait time.Duration) error {
			return store.EnsureTable(ctx, client, cfg.DynamoDB.Table, wait)
		})
		set.Rows = store.NewDynamoDBStore(client, cfg.DynamoDB.Table)
		set.Blobs = store.NewDynamoDBBlobStore(client, cfg.DynamoDB.Table, cfg.StreamBucket)

		if cfg.DynamoDB.LaneDatabaseURL == "" {
			logger.Warn().Msg("No lane database configured, queued jobs are kept in memory")
			set.WorkflowLane = store.NewMemoryLane(store.WithVisibilityTimeout(cfg.VisibilityTimeout))
			set.StepLane = store.NewMemoryLane(store.WithVisibilityTimeout(cfg.VisibilityTimeout))
			return set, nil
		}
		db, err := store.Open(ctx, cfg.DynamoDB.LaneDatabaseURL)
		if err != nil {
			return nil, err
		}
		set.closers = append(set.closers, db.Close)
		set.migrations = append(set.migrations, sqlMigration(db))
		set.WorkflowLane, set.StepLane = sqlLanes(db, cfg)
		return set, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func sqlLanes(db *store.SQLStore, cfg Config) (world.LaneTransport, world.LaneTransport) {
	vis := store.WithSQLVisibilityTimeout(cfg.VisibilityTimeout)
	return store.NewSQLLane(db, world.LaneWorkflow, vis), store.NewSQLLane(db, world.LaneStep, vis)
}

// newDynamoDBClient loads AWS settings from the environment
func newDynamoDBClient(ctx context.Context, cfg DynamoDBConfig) (*dynamodb.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}
