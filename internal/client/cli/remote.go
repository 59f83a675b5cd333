package cli

import (
	"context"

	"github.com/dmitrijs2005/estisync/internal/client/blobs"
	"github.com/dmitrijs2005/estisync/internal/client/config"
	"github.com/dmitrijs2005/estisync/internal/client/remote"
	"github.com/dmitrijs2005/estisync/internal/client/remote/dynamo"
	"github.com/dmitrijs2005/estisync/internal/client/remote/inmemory"
	"github.com/dmitrijs2005/estisync/internal/client/remote/postgres"
	"github.com/dmitrijs2005/estisync/internal/client/session"
	"github.com/dmitrijs2005/estisync/internal/logging"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var noopCloser = closerFunc(func() error { return nil })

// openRemote builds the adapter selected by c.Remote. The returned closer
// releases its connection pool, if any.
func openRemote(ctx context.Context, c *config.Config, logger logging.Logger) (remote.Service, closerFunc, error) {
	switch c.Remote {
	case config.RemotePostgres:
		svc, db, err := postgres.Open(ctx, c.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return svc, db.Close, nil

	case config.RemoteDynamoDB:
		svc, err := dynamo.New(ctx, dynamo.Options{
			Region:      c.DynamoRegion,
			Endpoint:    c.DynamoEndpoint,
			TablePrefix: c.DynamoTablePrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		if c.DynamoEndpoint != "" {
			if err := svc.EnsureTables(ctx); err != nil {
				return nil, nil, err
			}
		}
		return svc, noopCloser, nil

	default:
		logger.Warn(ctx, "using the in-memory remote, pushed changes are lost on exit")
		return inmemory.New(), noopCloser, nil
	}
}

// openBlobs returns an S3 store when a bucket is configured and an empty
// in-memory store otherwise.
func openBlobs(ctx context.Context, c *config.Config) (blobs.Store, error) {
	if c.S3Bucket == "" {
		return blobs.NewMemoryStore(), nil
	}
	return blobs.NewS3Store(ctx, blobs.S3Options{
		Bucket:    c.S3Bucket,
		Region:    c.S3Region,
		Endpoint:  c.S3Endpoint,
		AccessKey: c.S3AccessKey,
		SecretKey: c.S3SecretKey,
	})
}

func sessionProvider(c *config.Config) session.Provider {
	if c.SessionTokenFile != "" {
		return session.File(c.SessionTokenFile)
	}
	return session.Static(c.SessionToken)
}
