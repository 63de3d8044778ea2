package generator

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteRecords serializes the records as a JSON array into flagged.json under dir.
func WriteRecords(records []Record, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	path := filepath.Join(dir, "flagged.json")
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	if err := Encode(file, records); err != nil {
		return "", fmt.Errorf("encode json for %s: %w", path, err)
	}
	return path, nil
}

// Encode writes the records as an indented JSON array.
func Encode(w io.Writer, records []Record) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(records)
}
