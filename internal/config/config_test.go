package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"taskdesk/internal/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := config.Default()
	if cfg.Roles.Top != "admin" {
		t.Fatalf("top role = %q", cfg.Roles.Top)
	}
	if len(cfg.Roles.Managers) != 2 {
		t.Fatalf("managers = %v", cfg.Roles.Managers)
	}
	if cfg.Roles.HierarchyLead != "project_lead" {
		t.Fatalf("hierarchy lead = %q", cfg.Roles.HierarchyLead)
	}
	if cfg.Server.Addr == "" || cfg.Server.BasePath == "" {
		t.Fatalf("server defaults missing: %+v", cfg.Server)
	}
}

func TestFromYAMLValidates(t *testing.T) {
	if _, err := config.FromYAML([]byte("roles:\n  top: admin\n")); err == nil {
		t.Fatalf("expected error for missing manager roles")
	}
	cfg, err := config.FromYAML([]byte(`roles:
  top: boss
  managers: [supervisor]
  hierarchy_lead: supervisor
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Roles.Top != "boss" || cfg.Roles.HierarchyLead != "supervisor" {
		t.Fatalf("roles = %+v", cfg.Roles)
	}
	if cfg.Server.Addr != ":8080" || cfg.Server.BasePath != "/v0" {
		t.Fatalf("server defaults not applied: %+v", cfg.Server)
	}
}

func TestLoadOptionalFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg.Roles.Top != "admin" {
		t.Fatalf("expected default config, got %+v", cfg.Roles)
	}

	custom := `roles:
  top: chief
  managers: [lead]
  hierarchy_lead: lead
`
	if err := os.WriteFile(filepath.Join(dir, "taskdesk.yml"), []byte(custom), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err = config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("load optional with file: %v", err)
	}
	if cfg.Roles.Top != "chief" {
		t.Fatalf("expected file config, got %+v", cfg.Roles)
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault()))
	if err != nil {
		t.Fatalf("generated template does not parse: %v", err)
	}
	if cfg.Roles.Top == "" {
		t.Fatalf("template missing roles: %+v", cfg)
	}
}
