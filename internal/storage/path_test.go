package storage

import (
	"testing"
	"time"
)

func TestBuildDatasetPath(t *testing.T) {
	ts := time.Date(2026, time.February, 19, 23, 5, 0, 0, time.FixedZone("x", -5*3600))
	key, err := BuildDatasetPath("5b7c0d5e-3f0e-4a4c-9e55-0c8a1f2b9d10", ts)
	if err != nil {
		t.Fatalf("BuildDatasetPath() error = %v", err)
	}
	want := "sessions/date=2026-02-20/5b7c0d5e-3f0e-4a4c-9e55-0c8a1f2b9d10/data.parquet"
	if key != want {
		t.Fatalf("BuildDatasetPath() = %q, want %q", key, want)
	}
}

func TestBuildDatasetPathRejectsInvalidSessionID(t *testing.T) {
	for _, id := range []string{"", "../oops", "a/b"} {
		if _, err := BuildDatasetPath(id, time.Now()); err == nil {
			t.Fatalf("expected invalid component error for %q", id)
		}
	}
}

func TestNormalizeKey(t *testing.T) {
	got, err := NormalizeKey(" /sessions//date=2026-02-19/./abc/data.parquet")
	if err != nil {
		t.Fatalf("NormalizeKey() error = %v", err)
	}
	if got != "sessions/date=2026-02-19/abc/data.parquet" {
		t.Fatalf("NormalizeKey() = %q", got)
	}
	if got, err := NormalizeKey("\t//sessions/abc/data.parquet "); err != nil || got != "sessions/abc/data.parquet" {
		t.Fatalf("NormalizeKey(leading slashes) = %q, %v", got, err)
	}
	for _, key := range []string{"", "/", " // ", "..", "../secrets.txt", "a/../../b"} {
		if _, err := NormalizeKey(key); err == nil {
			t.Fatalf("NormalizeKey(%q) expected error", key)
		}
	}
}
