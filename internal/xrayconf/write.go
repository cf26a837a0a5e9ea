package xrayconf

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/creamcroissant/xray-client/internal/support/fsutil"
)

// Marshal renders cfg as indented JSON with a trailing newline.
func Marshal(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("xrayconf: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile replaces path with the rendered cfg.
func WriteFile(path string, cfg Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("xrayconf: write %s: %w", path, err)
	}
	return nil
}
