package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// WriteJSONAtomic marshals payload and replaces path via write-temp-then-rename
// so readers never observe a partially written file.
func WriteJSONAtomic(path string, payload any) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("path is empty")
	}
	if err := EnsureParentDir(path); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp-%d", path, time.Now().UTC().UnixNano())
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
