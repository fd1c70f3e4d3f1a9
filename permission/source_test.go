package permission

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func writePolicy(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestFileSourceYAML(t *testing.T) {
	path := writePolicy(t, "policy.yaml", `
roles:
  admin:
    plan: [create, read, update, delete]
  user:
    plan: [read]
`)

	set, err := FileSource{Path: path}.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := set.Roles["admin"]["plan"]; !slices.Equal(got, []string{"create", "read", "update", "delete"}) {
		t.Fatalf("admin plan actions %v", got)
	}

	e, err := NewEngine(set)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if !e.Allowed([]string{"user"}, "plan", "read") || e.Allowed([]string{"user"}, "plan", "delete") {
		t.Fatalf("user should read plans and nothing more")
	}
}

func TestFileSourceJSON(t *testing.T) {
	path := writePolicy(t, "policy.json", `{"roles":{"admin":{"plan":["delete"]}}}`)

	set, err := FileSource{Path: path}.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := set.Roles["admin"]["plan"]; !slices.Equal(got, []string{"delete"}) {
		t.Fatalf("admin plan actions %v", got)
	}
}

func TestFileSourceRejectsUnknownFieldsAndBadNames(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"unknown field", writePolicy(t, "unknown.yaml", "rules: {}\n")},
		{"colon in resource", writePolicy(t, "colon.json", `{"roles":{"admin":{"a:b":["read"]}}}`)},
		{"missing file", filepath.Join(t.TempDir(), "missing.yaml")},
	}
	for _, tt := range tests {
		if _, err := (FileSource{Path: tt.path}).Load(context.Background()); err == nil {
			t.Errorf("%s: expected load to fail", tt.name)
		}
	}
}
