// Package staging moves task data between storage resources and the local
// work directory: inputs in with replica failover, outputs out with catalog
// registration.
package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/seantiz/gantry/internal/model"
	"github.com/seantiz/gantry/internal/storage"
	"github.com/seantiz/gantry/internal/taskerr"
)

// ErrNoReplicas is wrapped by the transfer error returned for an entry with
// no replicas at all.
var ErrNoReplicas = errors.New("catalog entry has no replicas")

// Resolver leases storage adaptors.
type Resolver interface {
	Resolve(ctx context.Context, gatewayID, storageResourceID, groupResourceProfileID string) (*storage.Lease, error)
}

// Fetcher downloads catalog entries, trying replicas in stored order.
type Fetcher struct {
	resolver Resolver
	logger   *slog.Logger
}

// NewFetcher creates a fetcher.
func NewFetcher(r Resolver, logger *slog.Logger) *Fetcher {
	return &Fetcher{resolver: r, logger: logger}
}

// Fetch materializes entry as workDir/destName from the first replica that
// downloads successfully. Replicas after the first success are never
// touched. When every replica fails the result is a retryable transfer
// error.
func (f *Fetcher) Fetch(ctx context.Context, desc *model.TaskDescriptor, entry *model.DataProduct, destName, workDir string) (string, error) {
	localPath := filepath.Join(workDir, destName)

	if len(entry.Replicas) == 0 {
		return "", taskerr.Transfer("fetch catalog entry", entry.URI, ErrNoReplicas)
	}

	var errs []error
	for i, replica := range entry.Replicas {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		err := f.fetchReplica(ctx, desc, replica, localPath)
		if err == nil {
			replicaAttempts.WithLabelValues(resultSuccess).Inc()
			f.logger.Info("input staged",
				"task_id", desc.ID,
				"uri", entry.URI,
				"storage_resource_id", replica.StorageResourceID,
				"local_path", localPath,
			)
			return localPath, nil
		}

		replicaAttempts.WithLabelValues(resultFailure).Inc()
		f.logger.Warn("replica download failed, trying next",
			"task_id", desc.ID,
			"uri", entry.URI,
			"replica", i,
			"storage_resource_id", replica.StorageResourceID,
			"file_path", replica.FilePath,
			"error", err,
		)
		errs = append(errs, fmt.Errorf("replica %d (%s): %w", i, replica.StorageResourceID, err))
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", taskerr.Transfer("fetch catalog entry", entry.URI, errors.Join(errs...))
}

func (f *Fetcher) fetchReplica(ctx context.Context, desc *model.TaskDescriptor, replica model.ReplicaLocation, localPath string) error {
	uri, err := model.ParseReplicaURI(replica.FilePath)
	if err != nil {
		return err
	}

	lease, err := f.resolver.Resolve(ctx, desc.GatewayID, replica.StorageResourceID, desc.GroupResourceProfileID)
	if err != nil {
		return err
	}

	if err := lease.Download(ctx, uri.Path, localPath); err != nil {
		lease.Discard()
		return err
	}
	lease.Release()
	return nil
}
