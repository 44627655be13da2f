package migrations

import (
	"strings"
	"testing"
)

func TestNames(t *testing.T) {
	names, err := Names()
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) == 0 || names[0] != "0001_lead_engine.sql" {
		t.Fatalf("unexpected migrations: %v", names)
	}
}

func TestSchemaDeclaresLeaseUniqueness(t *testing.T) {
	body, err := files.ReadFile("0001_lead_engine.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(body), "lead_id    BIGINT      NOT NULL UNIQUE") {
		t.Fatalf("lead_leases.lead_id must be unique")
	}
}

func TestSchemaKeepsConfigKeysDistinct(t *testing.T) {
	body, err := files.ReadFile("0001_lead_engine.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, want := range []string{
		"branch_id                BIGINT CHECK (branch_id > 0)",
		"role_id                  TEXT CHECK (role_id <> '')",
		"CHECK (role_id IS NOT NULL OR branch_id IS NOT NULL)",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("lead_fetch_configs missing %q", want)
		}
	}
}
