// Package export writes an owner's anchor log, and the frames resolved
// against it, to a JSON or gzipped JSON file.
package export

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// FileName builds "<owner>_<timestamp>.json", with ".gz" appended when
// compressed.
func FileName(ownerID string, at time.Time, compress bool) string {
	owner := strings.Trim(unsafeName.ReplaceAllString(ownerID, "_"), "_")
	if owner == "" {
		owner = "anchors"
	}
	name := fmt.Sprintf("%s_%s.json", owner, at.UTC().Format("20060102_150405"))
	if compress {
		name += ".gz"
	}
	return name
}

// Compressed reports whether path names a gzipped export.
func Compressed(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

// WriteFile writes data to path as JSON, gzip-compressed when path ends in
// ".gz". The parent directory is created if needed.
func WriteFile(path string, data any) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()

	if !Compressed(path) {
		return encode(f, data)
	}

	gzWriter := gzip.NewWriter(f)
	if err := encode(gzWriter, data); err != nil {
		_ = gzWriter.Close()
		return err
	}
	return gzWriter.Close()
}

// ReadFile decodes an export written by WriteFile into out.
func ReadFile(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if Compressed(path) {
		gzReader, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gzReader.Close()
		r = gzReader
	}
	return json.NewDecoder(r).Decode(out)
}

func encode(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return nil
}
