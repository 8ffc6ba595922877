package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"time"
)

// Entry is one file in an archive.
type Entry struct {
	Name string
	Data []byte
}

// Write streams entries into w in order. Names are flattened to their base
// and must be unique.
func Write(w io.Writer, entries []Entry, modified time.Time) error {
	zw := zip.NewWriter(w)
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		name := path.Base(e.Name)
		if name == "." || name == "/" || name == "" {
			return fmt.Errorf("zip: invalid entry name %q", e.Name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("zip: duplicate entry %q", name)
		}
		seen[name] = struct{}{}
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified})
		if err != nil {
			return fmt.Errorf("zip: create %s: %w", name, err)
		}
		if _, err := fw.Write(e.Data); err != nil {
			return fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("zip: close: %w", err)
	}
	return nil
}

// Archive returns the archive bytes for entries.
func Archive(entries []Entry, modified time.Time) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, entries, modified); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
