// Package storage resolves and pools adaptors that move files between the
// local work directory and remote storage resources.
package storage

import (
	"context"
	"errors"

	"github.com/seantiz/gantry/internal/model"
)

// ErrUnsupportedProtocol is returned when no factory is registered for any of
// a storage resource's protocols.
var ErrUnsupportedProtocol = errors.New("unsupported storage protocol")

// Adaptor moves files to and from one storage resource.
type Adaptor interface {
	Download(ctx context.Context, remotePath, localPath string) error
	Upload(ctx context.Context, localPath, remotePath string) error
	CreateDirectory(ctx context.Context, path string, recursive bool) error
	Close() error
}

// Endpoint is everything a factory needs to open an adaptor.
type Endpoint struct {
	Resource   model.StorageResource
	Protocol   string
	LoginUser  string
	Credential model.SSHCredential
}

// Factory opens an adaptor for an endpoint.
type Factory interface {
	Open(ctx context.Context, ep Endpoint) (Adaptor, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, ep Endpoint) (Adaptor, error)

// Open calls f.
func (f FactoryFunc) Open(ctx context.Context, ep Endpoint) (Adaptor, error) {
	return f(ctx, ep)
}
