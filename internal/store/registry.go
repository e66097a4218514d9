package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/gantry/internal/model"
)

// GetDataProduct retrieves a catalog entry and its replicas in stored order.
func (s *SQLStore) GetDataProduct(ctx context.Context, uri string) (*model.DataProduct, error) {
	p := &model.DataProduct{}
	err := s.queryRow(ctx,
		`SELECT uri, gateway_id, owner_name, product_name, type, created_at
		FROM data_products WHERE uri = ?`, uri,
	).Scan(&p.URI, &p.GatewayID, &p.OwnerName, &p.ProductName, &p.Type, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("data product %s: %w", uri, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get data product: %w", err)
	}

	rows, err := s.query(ctx,
		`SELECT storage_resource_id, name, file_path, category, persistence
		FROM replica_locations WHERE product_uri = ? ORDER BY position`, uri,
	)
	if err != nil {
		return nil, fmt.Errorf("list replicas: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r model.ReplicaLocation
		if err := rows.Scan(&r.StorageResourceID, &r.Name, &r.FilePath, &r.Category, &r.Persistence); err != nil {
			return nil, fmt.Errorf("scan replica: %w", err)
		}
		p.Replicas = append(p.Replicas, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replicas: %w", err)
	}
	return p, nil
}

// RegisterDataProduct stores p under a newly assigned catalog URI and
// returns it. p.URI and p.CreatedAt are updated in place.
func (s *SQLStore) RegisterDataProduct(ctx context.Context, p *model.DataProduct) (string, error) {
	p.URI = model.NewCatalogURI()
	p.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.d.rebind(
		`INSERT INTO data_products (uri, gateway_id, owner_name, product_name, type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		p.URI, p.GatewayID, p.OwnerName, p.ProductName, p.Type, p.CreatedAt,
	); err != nil {
		return "", fmt.Errorf("insert data product: %w", err)
	}

	for i, r := range p.Replicas {
		if _, err := tx.ExecContext(ctx, s.d.rebind(
			`INSERT INTO replica_locations (
				product_uri, position, storage_resource_id, name, file_path, category, persistence
			) VALUES (?, ?, ?, ?, ?, ?, ?)`),
			p.URI, i, r.StorageResourceID, r.Name, r.FilePath, r.Category, r.Persistence,
		); err != nil {
			return "", fmt.Errorf("insert replica %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit data product: %w", err)
	}
	return p.URI, nil
}

// GetGatewayStoragePreference retrieves a gateway's preference for a storage resource.
func (s *SQLStore) GetGatewayStoragePreference(ctx context.Context, gatewayID, storageResourceID string) (*model.StoragePreference, error) {
	p := &model.StoragePreference{}
	err := s.queryRow(ctx,
		`SELECT gateway_id, storage_resource_id, login_user_name, file_system_root_location, credential_token
		FROM storage_preferences WHERE gateway_id = ? AND storage_resource_id = ?`,
		gatewayID, storageResourceID,
	).Scan(&p.GatewayID, &p.StorageResourceID, &p.LoginUserName, &p.FileSystemRootLocation, &p.ResourceSpecificCredentialToken)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("storage preference %s/%s: %w", gatewayID, storageResourceID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get storage preference: %w", err)
	}
	return p, nil
}

// PutStoragePreference creates or replaces a storage preference.
func (s *SQLStore) PutStoragePreference(ctx context.Context, p *model.StoragePreference) error {
	_, err := s.exec(ctx,
		`INSERT INTO storage_preferences (
			gateway_id, storage_resource_id, login_user_name, file_system_root_location, credential_token
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (gateway_id, storage_resource_id) DO UPDATE SET
			login_user_name = excluded.login_user_name,
			file_system_root_location = excluded.file_system_root_location,
			credential_token = excluded.credential_token`,
		p.GatewayID, p.StorageResourceID, p.LoginUserName, p.FileSystemRootLocation, p.ResourceSpecificCredentialToken,
	)
	if err != nil {
		return fmt.Errorf("put storage preference: %w", err)
	}
	return nil
}

// GetStorageResource retrieves a storage resource by ID.
func (s *SQLStore) GetStorageResource(ctx context.Context, id string) (*model.StorageResource, error) {
	r := &model.StorageResource{}
	var protocols string
	err := s.queryRow(ctx,
		`SELECT id, host_name, port, protocols FROM storage_resources WHERE id = ?`, id,
	).Scan(&r.ID, &r.HostName, &r.Port, &protocols)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("storage resource %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get storage resource: %w", err)
	}
	if err := json.Unmarshal([]byte(protocols), &r.Protocols); err != nil {
		return nil, fmt.Errorf("decode protocols: %w", err)
	}
	return r, nil
}

// PutStorageResource creates or replaces a storage resource.
func (s *SQLStore) PutStorageResource(ctx context.Context, r *model.StorageResource) error {
	protocols, err := json.Marshal(r.Protocols)
	if err != nil {
		return fmt.Errorf("encode protocols: %w", err)
	}
	_, err = s.exec(ctx,
		`INSERT INTO storage_resources (id, host_name, port, protocols) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			host_name = excluded.host_name,
			port = excluded.port,
			protocols = excluded.protocols`,
		r.ID, r.HostName, r.Port, string(protocols),
	)
	if err != nil {
		return fmt.Errorf("put storage resource: %w", err)
	}
	return nil
}

// GetGroupResourceProfile retrieves a group resource profile by ID.
func (s *SQLStore) GetGroupResourceProfile(ctx context.Context, id string) (*model.GroupResourceProfile, error) {
	p := &model.GroupResourceProfile{}
	err := s.queryRow(ctx,
		`SELECT id, default_credential_token FROM group_resource_profiles WHERE id = ?`, id,
	).Scan(&p.ID, &p.DefaultCredentialToken)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group resource profile %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get group resource profile: %w", err)
	}
	return p, nil
}

// PutGroupResourceProfile creates or replaces a group resource profile.
func (s *SQLStore) PutGroupResourceProfile(ctx context.Context, p *model.GroupResourceProfile) error {
	_, err := s.exec(ctx,
		`INSERT INTO group_resource_profiles (id, default_credential_token) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET default_credential_token = excluded.default_credential_token`,
		p.ID, p.DefaultCredentialToken,
	)
	if err != nil {
		return fmt.Errorf("put group resource profile: %w", err)
	}
	return nil
}

// GetSSHCredential retrieves the key material for a credential token.
func (s *SQLStore) GetSSHCredential(ctx context.Context, token, gatewayID string) (*model.SSHCredential, error) {
	c := &model.SSHCredential{}
	err := s.queryRow(ctx,
		`SELECT token, gateway_id, private_key, passphrase
		FROM ssh_credentials WHERE token = ? AND gateway_id = ?`, token, gatewayID,
	).Scan(&c.Token, &c.GatewayID, &c.PrivateKey, &c.Passphrase)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ssh credential: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get ssh credential: %w", err)
	}
	return c, nil
}

// PutSSHCredential creates or replaces an SSH credential.
func (s *SQLStore) PutSSHCredential(ctx context.Context, c *model.SSHCredential) error {
	_, err := s.exec(ctx,
		`INSERT INTO ssh_credentials (token, gateway_id, private_key, passphrase) VALUES (?, ?, ?, ?)
		ON CONFLICT (token, gateway_id) DO UPDATE SET
			private_key = excluded.private_key,
			passphrase = excluded.passphrase`,
		c.Token, c.GatewayID, c.PrivateKey, c.Passphrase,
	)
	if err != nil {
		return fmt.Errorf("put ssh credential: %w", err)
	}
	return nil
}

// GetApplication retrieves a registered application by ID.
func (s *SQLStore) GetApplication(ctx context.Context, id string) (*model.Application, error) {
	a := &model.Application{}
	var inputs, outputs, params string
	err := s.queryRow(ctx,
		`SELECT id, image, command, input_dir, output_dir, inputs, outputs, parameters
		FROM applications WHERE id = ?`, id,
	).Scan(&a.ID, &a.Image, &a.Command, &a.InputDir, &a.OutputDir, &inputs, &outputs, &params)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("application %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get application: %w", err)
	}

	if err := json.Unmarshal([]byte(inputs), &a.Inputs); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}
	if err := json.Unmarshal([]byte(outputs), &a.Outputs); err != nil {
		return nil, fmt.Errorf("decode outputs: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &a.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters: %w", err)
	}
	return a, nil
}

// PutApplication creates or replaces an application.
func (s *SQLStore) PutApplication(ctx context.Context, a *model.Application) error {
	inputs, err := json.Marshal(a.Inputs)
	if err != nil {
		return fmt.Errorf("encode inputs: %w", err)
	}
	outputs, err := json.Marshal(a.Outputs)
	if err != nil {
		return fmt.Errorf("encode outputs: %w", err)
	}
	params, err := json.Marshal(a.Parameters)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}

	_, err = s.exec(ctx,
		`INSERT INTO applications (id, image, command, input_dir, output_dir, inputs, outputs, parameters)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			image = excluded.image,
			command = excluded.command,
			input_dir = excluded.input_dir,
			output_dir = excluded.output_dir,
			inputs = excluded.inputs,
			outputs = excluded.outputs,
			parameters = excluded.parameters`,
		a.ID, a.Image, a.Command, a.InputDir, a.OutputDir, string(inputs), string(outputs), string(params),
	)
	if err != nil {
		return fmt.Errorf("put application: %w", err)
	}
	return nil
}
