package db

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestDialectorFor(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/app":   "postgres",
		"postgresql://u:p@localhost:5432/app": "postgres",
		"mysql://u:p@tcp(localhost:3306)/app": "mysql",
		"sqlite::memory:":                     "sqlite",
	}
	for dsn, want := range cases {
		d, err := dialectorFor(dsn)
		if err != nil {
			t.Fatalf("%s: %v", dsn, err)
		}
		if d.Name() != want {
			t.Fatalf("%s: expected %s, got %s", dsn, want, d.Name())
		}
	}
	if _, err := dialectorFor("redis://localhost"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestOpenSQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "app.db")
	gdb, err := Open("sqlite:" + path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := gdb.Exec("SELECT 1").Error; err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if IsUniqueViolation(nil) {
		t.Fatalf("nil is not a violation")
	}
	if !IsUniqueViolation(gorm.ErrDuplicatedKey) {
		t.Fatalf("expected gorm duplicated key to match")
	}
	if !IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})) {
		t.Fatalf("expected wrapped pg 23505 to match")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key violation is not a unique violation")
	}
	if !IsUniqueViolation(errors.New("UNIQUE constraint failed: sessions.session_id")) {
		t.Fatalf("expected sqlite message to match")
	}
}

func TestOpen_GormLogSkipsNotFoundAndHidesValues(t *testing.T) {
	var buf bytes.Buffer
	gdb, err := open("sqlite:file:gormlog?mode=memory&cache=shared", &buf)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	type logRow struct {
		SessionID string `gorm:"primaryKey"`
	}
	if err := gdb.AutoMigrate(&logRow{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	buf.Reset()

	var r logRow
	err = gdb.Where("session_id = ?", "sess-secret-1").First(&r).Error
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("not-found lookup was logged: %q", buf.String())
	}

	var n int64
	err = gdb.Raw("SELECT count(*) FROM missing_table WHERE session_id = ?", "sess-secret-2").Scan(&n).Error
	if err == nil {
		t.Fatal("want error from missing table")
	}
	out := buf.String()
	if !strings.Contains(out, "missing_table") {
		t.Fatalf("failed query not logged: %q", out)
	}
	if strings.Contains(out, "sess-secret-2") {
		t.Fatalf("bound value leaked into log: %q", out)
	}
}
