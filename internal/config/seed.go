package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/gantry/internal/model"
)

// Seed is the registry content loaded from a YAML file at startup.
type Seed struct {
	StorageResources      []model.StorageResource      `yaml:"storage_resources"`
	StoragePreferences    []model.StoragePreference    `yaml:"storage_preferences"`
	GroupResourceProfiles []model.GroupResourceProfile `yaml:"group_resource_profiles"`
	Applications          []model.Application          `yaml:"applications"`
	SSHCredentials        []model.SSHCredential        `yaml:"ssh_credentials"`
}

// Seeder is the write side of the registry a Seed is applied to.
type Seeder interface {
	PutStorageResource(ctx context.Context, r *model.StorageResource) error
	PutStoragePreference(ctx context.Context, p *model.StoragePreference) error
	PutGroupResourceProfile(ctx context.Context, p *model.GroupResourceProfile) error
	PutApplication(ctx context.Context, a *model.Application) error
	PutSSHCredential(ctx context.Context, c *model.SSHCredential) error
}

// LoadSeed reads and parses a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if err := seed.validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

func (s *Seed) validate() error {
	for i, r := range s.StorageResources {
		if r.ID == "" {
			return fmt.Errorf("storage_resources[%d]: id is required", i)
		}
		if len(r.Protocols) == 0 {
			return fmt.Errorf("storage resource %s: at least one protocol is required", r.ID)
		}
	}
	for i, p := range s.StoragePreferences {
		if p.GatewayID == "" || p.StorageResourceID == "" {
			return fmt.Errorf("storage_preferences[%d]: gateway_id and storage_resource_id are required", i)
		}
	}
	for i, a := range s.Applications {
		if a.ID == "" || a.Image == "" {
			return fmt.Errorf("applications[%d]: id and image are required", i)
		}
	}
	for i, c := range s.SSHCredentials {
		if c.Token == "" {
			return fmt.Errorf("ssh_credentials[%d]: token is required", i)
		}
	}
	return nil
}

// Apply writes every seeded entry to dst. Existing entries with the same
// key are replaced.
func (s *Seed) Apply(ctx context.Context, dst Seeder) error {
	for i := range s.StorageResources {
		if err := dst.PutStorageResource(ctx, &s.StorageResources[i]); err != nil {
			return fmt.Errorf("seed storage resource %s: %w", s.StorageResources[i].ID, err)
		}
	}
	for i := range s.StoragePreferences {
		p := &s.StoragePreferences[i]
		if err := dst.PutStoragePreference(ctx, p); err != nil {
			return fmt.Errorf("seed storage preference %s/%s: %w", p.GatewayID, p.StorageResourceID, err)
		}
	}
	for i := range s.GroupResourceProfiles {
		if err := dst.PutGroupResourceProfile(ctx, &s.GroupResourceProfiles[i]); err != nil {
			return fmt.Errorf("seed group resource profile %s: %w", s.GroupResourceProfiles[i].ID, err)
		}
	}
	for i := range s.Applications {
		if err := dst.PutApplication(ctx, &s.Applications[i]); err != nil {
			return fmt.Errorf("seed application %s: %w", s.Applications[i].ID, err)
		}
	}
	for i := range s.SSHCredentials {
		if err := dst.PutSSHCredential(ctx, &s.SSHCredentials[i]); err != nil {
			return fmt.Errorf("seed ssh credential: %w", err)
		}
	}
	return nil
}
