package service

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"telemetry-ingest/backend/internal/organization/repository"
	"telemetry-ingest/backend/internal/security"
)

func newService() (*Service, *repository.MemoryRepository) {
	repo := repository.NewMemoryRepository()
	return NewService(repo, security.NewHasher(4)), repo
}

func TestCreate(t *testing.T) {
	svc, repo := newService()
	ctx := context.Background()
	hasher := security.NewHasher(4)

	org, apiKey, err := svc.Create(ctx, "acme", "Acme", []string{" App.Acme.io. ", "*.acme.dev", "app.acme.io"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if want := []string{"app.acme.io", "*.acme.dev"}; !reflect.DeepEqual(org.AllowedDomains, want) {
		t.Errorf("domains = %v, want %v", org.AllowedDomains, want)
	}
	orgID, secret, err := security.SplitAPIKey(apiKey)
	if err != nil || orgID != "acme" {
		t.Fatalf("SplitAPIKey(%q) = %q, %v", apiKey, orgID, err)
	}
	stored, _ := repo.GetOrganizationByID(ctx, "acme")
	if err := hasher.Compare(stored.APIKeyHash, []byte(secret)); err != nil {
		t.Errorf("stored hash does not match key: %v", err)
	}

	if _, _, err := svc.Create(ctx, "acme", "Again", nil); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate Create err = %v, want ErrExists", err)
	}
	if _, _, err := svc.Create(ctx, "bad.id", "Bad", nil); err == nil {
		t.Error("Create should reject ids containing '.'")
	}
}

func TestRotateKey(t *testing.T) {
	svc, repo := newService()
	ctx := context.Background()
	_, oldKey, err := svc.Create(ctx, "acme", "Acme", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	newKey, err := svc.RotateKey(ctx, "acme")
	if err != nil {
		t.Fatalf("RotateKey: %v", err)
	}
	stored, _ := repo.GetOrganizationByID(ctx, "acme")
	hasher := security.NewHasher(4)
	_, oldSecret, _ := security.SplitAPIKey(oldKey)
	_, newSecret, _ := security.SplitAPIKey(newKey)
	if hasher.Compare(stored.APIKeyHash, []byte(oldSecret)) == nil {
		t.Error("old key still matches")
	}
	if err := hasher.Compare(stored.APIKeyHash, []byte(newSecret)); err != nil {
		t.Errorf("new key does not match: %v", err)
	}

	if _, err := svc.RotateKey(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("RotateKey(missing) err = %v", err)
	}
}

func TestSetDomainsAndGet(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	if _, _, err := svc.Create(ctx, "acme", "Acme", []string{"old.acme.io"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := svc.SetDomains(ctx, "acme", []string{"NEW.acme.io", ""})
	if err != nil {
		t.Fatalf("SetDomains: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"new.acme.io"}) {
		t.Errorf("SetDomains = %v", got)
	}
	org, err := svc.Get(ctx, "acme")
	if err != nil || !reflect.DeepEqual(org.AllowedDomains, []string{"new.acme.io"}) {
		t.Errorf("Get = %+v, %v", org, err)
	}
	if _, err := svc.Get(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Get(missing) err = %v", err)
	}
}

func TestEnsureDevOrg_Idempotent(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	_, key, err := svc.EnsureDevOrg(ctx, "dev", []string{"localhost"})
	if err != nil || key == "" {
		t.Fatalf("first EnsureDevOrg = %q, %v", key, err)
	}
	org, key, err := svc.EnsureDevOrg(ctx, "dev", []string{"other"})
	if err != nil || key != "" {
		t.Fatalf("second EnsureDevOrg = %q, %v", key, err)
	}
	if !reflect.DeepEqual(org.AllowedDomains, []string{"localhost"}) {
		t.Errorf("domains changed: %v", org.AllowedDomains)
	}
}
