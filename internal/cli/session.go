package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Client-side state (the session token and the offline queue) is kept as
// JSON files under ~/.cbk, one file per concern, all going through the
// same read/write/remove helpers.

type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Email        string `json:"email"`
	UserID       string `json:"user_id"`
}

const sessionFile = "session.json"

func statePath(name string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".cbk")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// readState decodes the named state file into out. A missing or empty file
// is not an error; the bool reports whether anything was decoded.
func readState(name string, out any) (bool, error) {
	path, err := statePath(name)
	if err != nil {
		return false, err
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(raw) == 0 {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

func writeState(name string, v any) error {
	path, err := statePath(name)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func removeState(name string) error {
	path, err := statePath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func SaveSession(s Session) error {
	return writeState(sessionFile, s)
}

func LoadSession() (Session, error) {
	var s Session
	found, err := readState(sessionFile, &s)
	if err != nil {
		return Session{}, err
	}
	if !found || strings.TrimSpace(s.AccessToken) == "" {
		return Session{}, fmt.Errorf("no access token found, run `cbk login`")
	}
	return s, nil
}

func ClearSession() error {
	return removeState(sessionFile)
}
