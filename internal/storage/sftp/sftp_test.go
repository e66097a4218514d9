package sftp

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/seantiz/gantry/internal/model"
	"github.com/seantiz/gantry/internal/storage"
)

func generateKey(t *testing.T, passphrase string) (string, ssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	var block *pem.Block
	if passphrase != "" {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	} else {
		block, err = ssh.MarshalPrivateKey(priv, "")
	}
	if err != nil {
		t.Fatalf("MarshalPrivateKey: %v", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("NewPublicKey: %v", err)
	}
	return string(pem.EncodeToMemory(block)), sshPub
}

func TestSignerPlainKey(t *testing.T) {
	key, pub := generateKey(t, "")

	signer, err := Signer(model.SSHCredential{PrivateKey: key})
	if err != nil {
		t.Fatalf("Signer: %v", err)
	}
	if string(signer.PublicKey().Marshal()) != string(pub.Marshal()) {
		t.Error("signer public key does not match generated key")
	}
}

func TestSignerWithPassphrase(t *testing.T) {
	key, pub := generateKey(t, "s3cret")

	signer, err := Signer(model.SSHCredential{PrivateKey: key, Passphrase: "s3cret"})
	if err != nil {
		t.Fatalf("Signer: %v", err)
	}
	if string(signer.PublicKey().Marshal()) != string(pub.Marshal()) {
		t.Error("signer public key does not match generated key")
	}

	if _, err := Signer(model.SSHCredential{PrivateKey: key, Passphrase: "wrong"}); err == nil {
		t.Error("Signer with wrong passphrase succeeded")
	}
}

func TestSignerInvalid(t *testing.T) {
	if _, err := Signer(model.SSHCredential{}); err == nil {
		t.Error("Signer with empty key succeeded")
	}
	if _, err := Signer(model.SSHCredential{PrivateKey: "not a key"}); err == nil {
		t.Error("Signer with garbage key succeeded")
	}
}

func TestFactoryMissingKnownHosts(t *testing.T) {
	key, _ := generateKey(t, "")
	f := &Factory{KnownHostsFile: filepath.Join(t.TempDir(), "missing")}

	_, err := f.Open(context.Background(), storage.Endpoint{
		Resource:   model.StorageResource{HostName: "127.0.0.1", Port: 1},
		Credential: model.SSHCredential{PrivateKey: key},
	})
	if err == nil {
		t.Fatal("Open with missing known_hosts file succeeded")
	}
}

func TestFactoryRejectsBadCredential(t *testing.T) {
	f := &Factory{}
	_, err := f.Open(context.Background(), storage.Endpoint{
		Resource: model.StorageResource{HostName: "127.0.0.1", Port: 1},
	})
	if err == nil {
		t.Fatal("Open without a private key succeeded")
	}
}
