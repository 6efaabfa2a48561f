package settings

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/borealis-media/borealis/internal/database"
)

func newTestService(t *testing.T) (*Service, *database.DB) {
	t.Helper()

	dir := t.TempDir()
	db, err := database.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db, filepath.Join(dir, "secret.key")), db
}

func TestSecretsEncryptedAtRest(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	got, err := svc.Update(ctx, map[string]string{
		"jf_host":    "media.example.com",
		"jf_api_key": "super-secret-token",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got["jf_api_key"] != "super-secret-token" {
		t.Errorf("decrypted value = %q, want the original secret", got["jf_api_key"])
	}

	var stored string
	if err := db.Get(&stored, "SELECT value FROM settings WHERE key = ?", "jf_api_key"); err != nil {
		t.Fatalf("read raw value: %v", err)
	}
	if !strings.HasPrefix(stored, "enc:") {
		t.Errorf("stored secret %q lacks enc: prefix", stored)
	}
	if strings.Contains(stored, "super-secret-token") {
		t.Error("secret stored in the clear")
	}

	if err := db.Get(&stored, "SELECT value FROM settings WHERE key = ?", "jf_host"); err != nil {
		t.Fatalf("read raw value: %v", err)
	}
	if stored != "media.example.com" {
		t.Errorf("non-secret value = %q, want plaintext", stored)
	}
}

func TestGetRoundTripsAfterReopen(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Update(ctx, map[string]string{"jf_api_key": "tok"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	// A second service instance with the same key file reads the same
	// plaintext.
	again := New(db, svc.keyPath)
	got, err := again.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got["jf_api_key"] != "tok" {
		t.Errorf("value = %q, want %q", got["jf_api_key"], "tok")
	}
}

func TestUpdateEmptyMapReturnsCurrent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Update(ctx, map[string]string{"jf_port": "8096"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := svc.Update(ctx, nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got["jf_port"] != "8096" {
		t.Errorf("value = %q, want %q", got["jf_port"], "8096")
	}
}

func TestJellyfinEndpoint(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.JellyfinEndpoint(ctx); err == nil {
		t.Error("expected error while unconfigured")
	}

	if _, err := svc.Update(ctx, map[string]string{
		"jf_host":    "https://media.example.com/",
		"jf_port":    "8920",
		"jf_api_key": "tok",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	base, token, err := svc.JellyfinEndpoint(ctx)
	if err != nil {
		t.Fatalf("endpoint: %v", err)
	}
	if base != "https://media.example.com:8920" {
		t.Errorf("base = %q", base)
	}
	if token != "tok" {
		t.Errorf("token = %q", token)
	}

	if _, err := svc.Update(ctx, map[string]string{"jf_host": "plain.example.com"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	base, _, err = svc.JellyfinEndpoint(ctx)
	if err != nil {
		t.Fatalf("endpoint: %v", err)
	}
	if base != "http://plain.example.com:8920" {
		t.Errorf("base = %q, want http scheme default", base)
	}
}
