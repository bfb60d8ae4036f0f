package sessions

import "testing"

func TestLoadMigrationsOrdersByID(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected at least one embedded migration")
	}
	for i := 1; i < len(migrations); i++ {
		if migrations[i-1].ID >= migrations[i].ID {
			t.Fatalf("migrations out of order: %q before %q", migrations[i-1].ID, migrations[i].ID)
		}
	}
}

func TestLoadMigrationsHasUpAndDownSQL(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	for _, migration := range migrations {
		if migration.UpSQL == "" {
			t.Errorf("migration %s: missing up SQL", migration.ID)
		}
		if migration.DownSQL == "" {
			t.Errorf("migration %s: missing down SQL", migration.ID)
		}
	}
}

func TestNewMigratorRequiresDB(t *testing.T) {
	if _, err := NewMigrator(nil); err == nil {
		t.Fatal("expected an error for a nil db")
	}
}
