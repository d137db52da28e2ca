package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	orgrepo "telemetry-ingest/backend/internal/organization/repository"
	orgservice "telemetry-ingest/backend/internal/organization/service"
	"telemetry-ingest/backend/internal/security"
)

func memoryOpener() Opener {
	svc := orgservice.NewService(orgrepo.NewMemoryRepository(), security.NewHasher(4))
	return func(context.Context) (*orgservice.Service, func(), error) {
		return svc, func() {}, nil
	}
}

func execute(t *testing.T, open Opener, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand(open)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestOrgCreateAndShow(t *testing.T) {
	open := memoryOpener()

	out, err := execute(t, open, "org", "create", "--id", "acme", "--name", "Acme", "--domain", "app.acme.io", "--domain", "*.acme.dev", "--format", "json")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var created orgOutput
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if !strings.HasPrefix(created.APIKey, "acme.") || len(created.AllowedDomains) != 2 {
		t.Errorf("created = %+v", created)
	}

	out, err = execute(t, open, "org", "show", "--id", "acme")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "app.acme.io, *.acme.dev") || strings.Contains(out, "api key") {
		t.Errorf("show output = %q", out)
	}
}

func TestOrgDomainsAndRotateKey(t *testing.T) {
	open := memoryOpener()
	if _, err := execute(t, open, "org", "create", "--id", "acme", "--name", "Acme"); err != nil {
		t.Fatalf("create: %v", err)
	}

	out, err := execute(t, open, "org", "domains", "--id", "acme", "--domain", "New.Acme.io")
	if err != nil {
		t.Fatalf("domains: %v", err)
	}
	if !strings.Contains(out, "new.acme.io") {
		t.Errorf("domains output = %q", out)
	}

	out, err = execute(t, open, "org", "rotate-key", "--id", "acme")
	if err != nil {
		t.Fatalf("rotate-key: %v", err)
	}
	if !strings.Contains(out, "api key:  acme.") {
		t.Errorf("rotate-key output = %q", out)
	}
}

func TestOrgErrors(t *testing.T) {
	open := memoryOpener()
	if _, err := execute(t, open, "org", "show", "--id", "missing"); err == nil {
		t.Error("show of a missing org should fail")
	}
	if _, err := execute(t, open, "org", "create", "--name", "No ID"); err == nil {
		t.Error("create without --id should fail")
	}
	if _, err := execute(t, open, "org", "show", "--id", "x", "--format", "yaml"); err == nil {
		t.Error("unknown format should fail")
	}
}
