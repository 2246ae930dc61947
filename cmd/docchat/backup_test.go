package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestBackupRestoreRoundTrip(t *testing.T) {
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	src := t.TempDir()
	write := func(p, body string) string {
		t.Helper()
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	cfg := write(filepath.Join(src, "config.json"), `{"general":{}}`)
	db := write(filepath.Join(src, "docchat.db"), "db")
	wal := write(filepath.Join(src, "docchat.db-wal"), "wal")
	filesDir := filepath.Join(src, "files")
	write(filepath.Join(filesDir, "docchat", "ab", "report.pdf"), "%PDF")

	entries := []archiveEntry{
		{src: db, name: "docchat.db"},
		{src: wal, name: "docchat.db-wal"},
		{src: cfg, name: "config.json"},
	}
	objects, err := collectDir(filesDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(objects) != 1 || objects[0].name != "files/docchat/ab/report.pdf" {
		t.Fatalf("objects = %+v", objects)
	}
	entries = append(entries, objects...)

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	if err := createTarGz(archive, entries); err != nil {
		t.Fatal(err)
	}

	dst := t.TempDir()
	rt := restoreTargets{
		config: filepath.Join(dst, "conf", "config.json"),
		db:     filepath.Join(dst, "data", "chat.db"),
		files:  filepath.Join(dst, "objects"),
	}
	restored, err := extractTarGz(archive, rt)
	if err != nil {
		t.Fatal(err)
	}
	if len(restored) != 4 {
		t.Errorf("restored %d files: %v", len(restored), restored)
	}

	checks := []struct{ path, want string }{
		{rt.config, `{"general":{}}`},
		{rt.db, "db"},
		{rt.db + "-wal", "wal"},
		{filepath.Join(rt.files, "docchat", "ab", "report.pdf"), "%PDF"},
	}
	for _, c := range checks {
		p, want := c.path, c.want
		got, err := os.ReadFile(p)
		if err != nil {
			t.Errorf("read %s: %v", p, err)
			continue
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", p, got, want)
		}
	}
}

func TestRestoreTargets(t *testing.T) {
	rt := restoreTargets{config: "/c/config.json", db: "/d/chat.db", files: "/f"}
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"config.yaml", "/c/config.json", false},
		{"docchat.db", "/d/chat.db", false},
		{"docchat.db-shm", "/d/chat.db-shm", false},
		{"./docchat.db", "/d/chat.db", false},
		{"files/b/x.xlsx", filepath.Join("/f", "b", "x.xlsx"), false},
		{"notes.txt", "", false},
		{"files/../../etc/passwd", "", true},
		{"nested/docchat.db", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rt.target(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("target = %q, want %q", got, tt.want)
			}
		})
	}

	pg := restoreTargets{config: "/c/config.json", files: "/f"}
	if got, _ := pg.target("docchat.db"); got != "" {
		t.Errorf("postgres restore should skip the sqlite file, got %q", got)
	}
}
