package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/seantiz/gantry/internal/model"
	"github.com/seantiz/gantry/internal/taskerr"
)

// ErrOutputMissing is wrapped when a required output file was not produced.
var ErrOutputMissing = errors.New("required output file not produced")

// Registrar registers new catalog entries.
type Registrar interface {
	RegisterDataProduct(ctx context.Context, p *model.DataProduct) (string, error)
}

// Variables is the context-variable scope of a task.
type Variables interface {
	Set(name, value string) error
}

// StagedOutput records where a published output ended up.
type StagedOutput struct {
	ID  string
	URI string
}

// Stager publishes sandbox outputs to durable storage and registers each
// one as a new catalog entry.
type Stager struct {
	resolver  Resolver
	registrar Registrar
	logger    *slog.Logger
}

// NewStager creates a stager.
func NewStager(r Resolver, reg Registrar, logger *slog.Logger) *Stager {
	return &Stager{resolver: r, registrar: reg, logger: logger}
}

// Stage processes the declared outputs of desc in order. Each produced file
// in outputDir is uploaded to <storage root>/tasks/<task ID>/outputs/<name>,
// registered with a single transient replica, and its catalog URI stored in
// the output's context variable.
//
// A missing optional output is skipped. A missing required output, or any
// upload or registration failure, is a non-retryable staging error.
func (s *Stager) Stage(ctx context.Context, desc *model.TaskDescriptor, outputDir string, vars Variables) ([]StagedOutput, error) {
	var staged []StagedOutput
	for _, out := range desc.Outputs {
		if err := ctx.Err(); err != nil {
			return staged, err
		}

		if out.StorageResourceID == "" {
			if out.Required {
				outputsTotal.WithLabelValues(resultFailure).Inc()
				return staged, taskerr.Binding("bind output", out.ID, errors.New("no destination storage resource"))
			}
			outputsTotal.WithLabelValues(resultSkipped).Inc()
			s.logger.Warn("optional output has no destination, skipping", "task_id", desc.ID, "output_id", out.ID)
			continue
		}

		localPath := filepath.Join(outputDir, out.Name)
		if fi, err := os.Stat(localPath); err != nil || fi.IsDir() {
			if out.Required {
				outputsTotal.WithLabelValues(resultFailure).Inc()
				return staged, taskerr.Staging("stage output", out.ID, fmt.Errorf("%w: %s", ErrOutputMissing, localPath))
			}
			outputsTotal.WithLabelValues(resultSkipped).Inc()
			s.logger.Warn("optional output not produced, skipping",
				"task_id", desc.ID,
				"output_id", out.ID,
				"local_path", localPath,
			)
			continue
		}

		uri, err := s.stageOne(ctx, desc, out, localPath, vars)
		if err != nil {
			outputsTotal.WithLabelValues(resultFailure).Inc()
			return staged, err
		}
		outputsTotal.WithLabelValues(resultSuccess).Inc()
		staged = append(staged, StagedOutput{ID: out.ID, URI: uri})
	}
	return staged, nil
}

func (s *Stager) stageOne(ctx context.Context, desc *model.TaskDescriptor, out model.OutputSpec, localPath string, vars Variables) (string, error) {
	lease, err := s.resolver.Resolve(ctx, desc.GatewayID, out.StorageResourceID, desc.GroupResourceProfileID)
	if err != nil {
		if taskerr.KindOf(err) == taskerr.KindConfiguration {
			return "", err
		}
		return "", taskerr.Staging("resolve output storage", out.StorageResourceID, err)
	}

	remoteDir := path.Join(lease.Preference.FileSystemRootLocation, "tasks", desc.ID, "outputs")
	remotePath := path.Join(remoteDir, out.Name)

	if err := lease.CreateDirectory(ctx, remoteDir, true); err != nil {
		lease.Discard()
		return "", taskerr.Staging("create output directory", remoteDir, err)
	}
	if err := lease.Upload(ctx, localPath, remotePath); err != nil {
		lease.Discard()
		return "", taskerr.Staging("upload output", out.ID, err)
	}
	lease.Release()

	s.logger.Info("output uploaded",
		"task_id", desc.ID,
		"output_id", out.ID,
		"storage_resource_id", out.StorageResourceID,
		"remote_path", remotePath,
	)

	replicaURI := model.ReplicaURI{
		Scheme: lease.Protocol,
		User:   lease.Preference.LoginUserName,
		Host:   lease.Resource.HostName,
		Port:   lease.Resource.Port,
		Path:   remotePath,
	}
	product := &model.DataProduct{
		GatewayID:   desc.GatewayID,
		OwnerName:   desc.ID,
		ProductName: out.ID,
		Type:        model.ProductTypeFile,
		Replicas: []model.ReplicaLocation{{
			StorageResourceID: out.StorageResourceID,
			Name:              out.Name,
			FilePath:          replicaURI.String(),
			Category:          model.ReplicaCategoryGatewayDataStore,
			Persistence:       model.PersistenceTransient,
		}},
	}

	uri, err := s.registrar.RegisterDataProduct(ctx, product)
	if err != nil {
		return "", taskerr.Staging("register output", out.ID, err)
	}

	if out.ContextVariable != "" {
		if err := vars.Set(out.ContextVariable, uri); err != nil {
			return "", taskerr.Staging("set context variable", out.ContextVariable, err)
		}
	}
	return uri, nil
}
