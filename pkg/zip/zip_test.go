package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
	"time"
)

func TestArchiveKeepsOrderAndContent(t *testing.T) {
	modified := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	data, err := Archive([]Entry{
		{Name: "sticker-laughing.png", Data: []byte("one")},
		{Name: "nested/sticker-crying.svg", Data: []byte("<svg/>")},
	}, modified)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	want := []struct{ name, body string }{
		{"sticker-laughing.png", "one"},
		{"sticker-crying.svg", "<svg/>"},
	}
	if len(zr.File) != len(want) {
		t.Fatalf("got %d entries", len(zr.File))
	}
	for i, f := range zr.File {
		if f.Name != want[i].name {
			t.Fatalf("entry %d name = %q, want %q", i, f.Name, want[i].name)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		body, _ := io.ReadAll(rc)
		rc.Close()
		if string(body) != want[i].body {
			t.Fatalf("%s body = %q", f.Name, body)
		}
	}
}

func TestArchiveRejectsDuplicates(t *testing.T) {
	_, err := Archive([]Entry{{Name: "a.png"}, {Name: "dir/a.png"}}, time.Now())
	if err == nil {
		t.Fatalf("expected duplicate entry error")
	}
}
