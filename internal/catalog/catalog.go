// Package catalog defines the registry and credential contracts the task
// pipeline depends on.
package catalog

import (
	"context"
	"errors"

	"github.com/seantiz/gantry/internal/model"
)

// ErrNotFound is returned when a registry or credential lookup finds nothing.
var ErrNotFound = errors.New("not found")

// Registry resolves catalog entries and deployment configuration.
type Registry interface {
	GetDataProduct(ctx context.Context, uri string) (*model.DataProduct, error)
	// RegisterDataProduct stores p and returns its newly assigned URI.
	RegisterDataProduct(ctx context.Context, p *model.DataProduct) (string, error)
	GetGatewayStoragePreference(ctx context.Context, gatewayID, storageResourceID string) (*model.StoragePreference, error)
	GetStorageResource(ctx context.Context, id string) (*model.StorageResource, error)
	GetGroupResourceProfile(ctx context.Context, id string) (*model.GroupResourceProfile, error)
	GetApplication(ctx context.Context, id string) (*model.Application, error)
}

// CredentialStore resolves credential tokens to key material.
type CredentialStore interface {
	GetSSHCredential(ctx context.Context, token, gatewayID string) (*model.SSHCredential, error)
}
