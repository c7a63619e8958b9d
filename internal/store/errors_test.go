package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

func TestIsConflictIgnoresPlainErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "nil", err: nil},
		{name: "text only", err: errors.New("database is locked (5)")},
		{name: "wrapped text", err: fmt.Errorf("delete session: %w", errors.New("SQLITE_BUSY"))},
		{name: "canceled", err: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if isConflict(tt.err) {
				t.Fatalf("isConflict(%v) = true, want false", tt.err)
			}
		})
	}
}

func TestIsConflictDetectsBusyDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "busy.db")

	holder, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open holder: %v", err)
	}
	t.Cleanup(func() { _ = holder.Close() })
	if _, err := holder.ExecContext(ctx, `CREATE TABLE t (v INTEGER)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	conn, err := holder.Conn(ctx)
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if _, err := conn.ExecContext(ctx, `BEGIN EXCLUSIVE`); err != nil {
		t.Fatalf("begin exclusive: %v", err)
	}
	t.Cleanup(func() { _, _ = conn.ExecContext(ctx, `ROLLBACK`) })

	writer, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(0)")
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	t.Cleanup(func() { _ = writer.Close() })

	_, err = writer.ExecContext(ctx, `INSERT INTO t (v) VALUES (1)`)
	if err == nil {
		t.Fatal("expected write to fail while the database is held")
	}
	if !isConflict(fmt.Errorf("insert: %w", err)) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}
