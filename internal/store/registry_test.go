package store

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/seantiz/gantry/internal/catalog"
	"github.com/seantiz/gantry/internal/model"
)

func TestRegisterAndGetDataProduct(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &model.DataProduct{
		GatewayID:   "gw-1",
		OwnerName:   "task-1",
		ProductName: "result",
		Type:        model.ProductTypeFile,
		Replicas: []model.ReplicaLocation{
			{StorageResourceID: "sr-b", Name: "b", FilePath: "scp://u@b:22/x", Category: model.ReplicaCategoryGatewayDataStore, Persistence: model.PersistenceTransient},
			{StorageResourceID: "sr-a", Name: "a", FilePath: "scp://u@a:22/x", Category: model.ReplicaCategoryComputeResource, Persistence: model.PersistencePersistent},
		},
	}

	uri, err := s.RegisterDataProduct(ctx, p)
	if err != nil {
		t.Fatalf("RegisterDataProduct: %v", err)
	}
	if uri == "" || uri != p.URI {
		t.Fatalf("uri = %q, p.URI = %q", uri, p.URI)
	}

	got, err := s.GetDataProduct(ctx, uri)
	if err != nil {
		t.Fatalf("GetDataProduct: %v", err)
	}
	if got.OwnerName != "task-1" || got.ProductName != "result" || got.Type != model.ProductTypeFile {
		t.Errorf("product = %+v", got)
	}
	if !reflect.DeepEqual(got.Replicas, p.Replicas) {
		t.Errorf("Replicas = %+v, want %+v (order must be preserved)", got.Replicas, p.Replicas)
	}

	// A second registration always gets a new URI.
	uri2, err := s.RegisterDataProduct(ctx, &model.DataProduct{GatewayID: "gw-1", Type: model.ProductTypeFile})
	if err != nil {
		t.Fatalf("RegisterDataProduct: %v", err)
	}
	if uri2 == uri {
		t.Errorf("second registration reused URI %q", uri)
	}
}

func TestGetDataProductNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetDataProduct(context.Background(), "catalog://missing")
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("GetDataProduct error = %v, want catalog.ErrNotFound", err)
	}
}

func TestStorageConfigurationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res := &model.StorageResource{ID: "sr-1", HostName: "store.example.org", Port: 22, Protocols: []string{"scp", "sftp"}}
	if err := s.PutStorageResource(ctx, res); err != nil {
		t.Fatalf("PutStorageResource: %v", err)
	}
	gotRes, err := s.GetStorageResource(ctx, "sr-1")
	if err != nil {
		t.Fatalf("GetStorageResource: %v", err)
	}
	if !reflect.DeepEqual(gotRes, res) {
		t.Errorf("GetStorageResource = %+v, want %+v", gotRes, res)
	}

	pref := &model.StoragePreference{
		GatewayID:                       "gw-1",
		StorageResourceID:               "sr-1",
		LoginUserName:                   "alice",
		FileSystemRootLocation:          "/storage",
		ResourceSpecificCredentialToken: "tok-1",
	}
	if err := s.PutStoragePreference(ctx, pref); err != nil {
		t.Fatalf("PutStoragePreference: %v", err)
	}
	pref.LoginUserName = "bob"
	if err := s.PutStoragePreference(ctx, pref); err != nil {
		t.Fatalf("PutStoragePreference update: %v", err)
	}
	gotPref, err := s.GetGatewayStoragePreference(ctx, "gw-1", "sr-1")
	if err != nil {
		t.Fatalf("GetGatewayStoragePreference: %v", err)
	}
	if *gotPref != *pref {
		t.Errorf("preference = %+v, want %+v", gotPref, pref)
	}

	if _, err := s.GetGatewayStoragePreference(ctx, "gw-2", "sr-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing preference error = %v, want ErrNotFound", err)
	}

	if err := s.PutGroupResourceProfile(ctx, &model.GroupResourceProfile{ID: "grp-1", DefaultCredentialToken: "tok-d"}); err != nil {
		t.Fatalf("PutGroupResourceProfile: %v", err)
	}
	gotProfile, err := s.GetGroupResourceProfile(ctx, "grp-1")
	if err != nil {
		t.Fatalf("GetGroupResourceProfile: %v", err)
	}
	if gotProfile.DefaultCredentialToken != "tok-d" {
		t.Errorf("DefaultCredentialToken = %q, want %q", gotProfile.DefaultCredentialToken, "tok-d")
	}

	if err := s.PutSSHCredential(ctx, &model.SSHCredential{Token: "tok-1", GatewayID: "gw-1", PrivateKey: "PEM"}); err != nil {
		t.Fatalf("PutSSHCredential: %v", err)
	}
	cred, err := s.GetSSHCredential(ctx, "tok-1", "gw-1")
	if err != nil {
		t.Fatalf("GetSSHCredential: %v", err)
	}
	if cred.PrivateKey != "PEM" {
		t.Errorf("PrivateKey = %q, want %q", cred.PrivateKey, "PEM")
	}
	if _, err := s.GetSSHCredential(ctx, "tok-1", "gw-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("credential for other gateway error = %v, want ErrNotFound", err)
	}
}

func TestApplicationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	app := &model.Application{
		ID:        "app-1",
		Image:     "busybox:1.36",
		Command:   "cp /in/a /out/b",
		InputDir:  "/in",
		OutputDir: "/out",
		Inputs:    []model.InputSpec{{ID: "a", Name: "a", Required: true}},
		Outputs:   []model.OutputSpec{{ID: "b", Name: "b", Required: false}},
		Parameters: []model.ParameterDecl{
			{Name: "ITERATIONS", Type: "Integer"},
		},
	}
	if err := s.PutApplication(ctx, app); err != nil {
		t.Fatalf("PutApplication: %v", err)
	}

	got, err := s.GetApplication(ctx, "app-1")
	if err != nil {
		t.Fatalf("GetApplication: %v", err)
	}
	if !reflect.DeepEqual(got, app) {
		t.Errorf("GetApplication = %+v, want %+v", got, app)
	}

	if _, err := s.GetApplication(ctx, "app-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing application error = %v, want ErrNotFound", err)
	}
}

func TestPutAndGetJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := &model.Job{ID: "job-1", State: "QUEUED", BackendCode: 1, UpdatedAt: time.Now().UTC().Truncate(time.Second)}
	if err := s.PutJob(ctx, j); err != nil {
		t.Fatalf("PutJob: %v", err)
	}
	j.State = "ACTIVE"
	j.BackendCode = 2
	if err := s.PutJob(ctx, j); err != nil {
		t.Fatalf("PutJob update: %v", err)
	}

	got, err := s.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != "ACTIVE" || got.BackendCode != 2 {
		t.Errorf("job = %+v, want ACTIVE/2", got)
	}

	if _, err := s.GetJob(ctx, "job-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJob(missing) error = %v, want ErrNotFound", err)
	}
}
