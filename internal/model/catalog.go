package model

import "time"

// Data product types.
const (
	ProductTypeFile       = "FILE"
	ProductTypeCollection = "COLLECTION"
)

// Replica location categories.
const (
	ReplicaCategoryGatewayDataStore = "GATEWAY_DATA_STORE"
	ReplicaCategoryComputeResource  = "COMPUTE_RESOURCE"
)

// Replica persistence types.
const (
	PersistenceTransient  = "TRANSIENT"
	PersistencePersistent = "PERSISTENT"
)

// Storage access protocols.
const (
	ProtocolSCP   = "scp"
	ProtocolSFTP  = "sftp"
	ProtocolLocal = "local"
)

// DataProduct is a catalog entry: a logical data item with one or more
// physical replicas, kept in the order they were registered.
type DataProduct struct {
	URI         string            `json:"uri"`
	GatewayID   string            `json:"gateway_id"`
	OwnerName   string            `json:"owner_name"`
	ProductName string            `json:"product_name"`
	Type        string            `json:"type"`
	Replicas    []ReplicaLocation `json:"replicas"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ReplicaLocation is one physical copy of a catalog entry. FilePath is a
// replica URI of the form scheme://user@host:port/path.
type ReplicaLocation struct {
	StorageResourceID string `json:"storage_resource_id"`
	Name              string `json:"name"`
	FilePath          string `json:"file_path"`
	Category          string `json:"category"`
	Persistence       string `json:"persistence"`
}

// StoragePreference is a gateway's account on a storage resource.
type StoragePreference struct {
	GatewayID                       string `json:"gateway_id" yaml:"gateway_id"`
	StorageResourceID               string `json:"storage_resource_id" yaml:"storage_resource_id"`
	LoginUserName                   string `json:"login_user_name" yaml:"login_user_name"`
	FileSystemRootLocation          string `json:"file_system_root_location" yaml:"file_system_root_location"`
	ResourceSpecificCredentialToken string `json:"resource_specific_credential_token,omitempty" yaml:"resource_specific_credential_token"`
}

// StorageResource is a host that stores data, along with the access
// protocols it accepts in order of declaration.
type StorageResource struct {
	ID        string   `json:"id" yaml:"id"`
	HostName  string   `json:"host_name" yaml:"host_name"`
	Port      int      `json:"port" yaml:"port"`
	Protocols []string `json:"protocols" yaml:"protocols"`
}

// GroupResourceProfile carries the fallback credential token for a group of
// users.
type GroupResourceProfile struct {
	ID                     string `json:"id" yaml:"id"`
	DefaultCredentialToken string `json:"default_credential_token" yaml:"default_credential_token"`
}

// SSHCredential is the key material a credential token resolves to.
type SSHCredential struct {
	Token      string `json:"token" yaml:"token"`
	GatewayID  string `json:"gateway_id" yaml:"gateway_id"`
	PrivateKey string `json:"-" yaml:"private_key"`
	Passphrase string `json:"-" yaml:"passphrase"`
}

// ParameterDecl declares a typed application argument. Type is an external
// type name such as "Integer" or "StringArray".
type ParameterDecl struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// Application is a registered containerized program: what to run, where
// its data goes inside the sandbox, and what it consumes and produces.
type Application struct {
	ID         string          `json:"id" yaml:"id"`
	Image      string          `json:"image" yaml:"image"`
	Command    string          `json:"command" yaml:"command"`
	InputDir   string          `json:"input_dir" yaml:"input_dir"`
	OutputDir  string          `json:"output_dir" yaml:"output_dir"`
	Inputs     []InputSpec     `json:"inputs" yaml:"inputs"`
	Outputs    []OutputSpec    `json:"outputs" yaml:"outputs"`
	Parameters []ParameterDecl `json:"parameters,omitempty" yaml:"parameters"`
}
