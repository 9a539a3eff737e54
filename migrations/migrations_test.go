package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(FS, ".")
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	if len(ups) == 0 {
		t.Fatalf("expected embedded migrations")
	}
	for name := range ups {
		if !downs[name] {
			t.Errorf("migration %s has no down file", name)
		}
	}
}

func TestMigrationsDeclareUniqueKeys(t *testing.T) {
	schedules, err := fs.ReadFile(FS, "000003_schedules.up.sql")
	if err != nil {
		t.Fatalf("read schedules: %v", err)
	}
	if !strings.Contains(string(schedules), "UNIQUE (schedule_code, schedule_date, workspace_id, integration_id, patient_code)") {
		t.Errorf("schedules table missing natural key")
	}
	messages, err := fs.ReadFile(FS, "000004_schedule_messages.up.sql")
	if err != nil {
		t.Fatalf("read messages: %v", err)
	}
	if !strings.Contains(string(messages), "UNIQUE (schedule_id, send_type, recipient, recipient_type, sending_group_type)") {
		t.Errorf("schedule_messages table missing natural key")
	}
}
