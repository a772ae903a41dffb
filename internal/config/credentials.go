package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type clientSecrets struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type credentialsFile struct {
	Installed *clientSecrets `json:"installed"`
	Web       *clientSecrets `json:"web"`
}

// ReadClientSecrets extracts the client id and secret from a Google OAuth
// client credentials file (desktop "installed" or "web" flavor).
func ReadClientSecrets(path string) (id, secret string, err error) {
	b, err := os.ReadFile(path) // #nosec G304 - path from config
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", path, err)
	}
	var cf credentialsFile
	if err := json.Unmarshal(b, &cf); err != nil {
		return "", "", fmt.Errorf("decode %s: %w", path, err)
	}
	cs := cf.Installed
	if cs == nil {
		cs = cf.Web
	}
	if cs == nil || cs.ClientID == "" || cs.ClientSecret == "" {
		return "", "", fmt.Errorf("%s: %w", path, ErrMissingCredentials)
	}
	return cs.ClientID, cs.ClientSecret, nil
}

// WriteEnvFile writes GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET from the
// credentials file into envPath, replacing the file.
func WriteEnvFile(credentialsPath, envPath string) error {
	id, secret, err := ReadClientSecrets(credentialsPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(envPath), 0o750); err != nil {
		return fmt.Errorf("create env directory: %w", err)
	}
	env := map[string]string{
		"GMAIL_CLIENT_ID":     id,
		"GMAIL_CLIENT_SECRET": secret,
	}
	if err := godotenv.Write(env, envPath); err != nil {
		return fmt.Errorf("write %s: %w", envPath, err)
	}
	if err := os.Chmod(envPath, 0o600); err != nil {
		return fmt.Errorf("restrict %s: %w", envPath, err)
	}
	return nil
}

// FileStatus reports whether one of the files gmailpurge relies on exists.
type FileStatus struct {
	Name   string
	Path   string
	Exists bool
	Err    error // set for stat failures other than not-exist
}

// CheckFiles inspects the credentials, token and log locations.
func (c Config) CheckFiles() []FileStatus {
	files := []FileStatus{
		{Name: "credentials", Path: c.CredentialsFile},
		{Name: "token", Path: c.TokenFile},
	}
	if c.LogFile != "" {
		files = append(files, FileStatus{Name: "csv log", Path: c.LogFile})
	}
	if c.LogDB != "" {
		files = append(files, FileStatus{Name: "sqlite log", Path: c.LogDB})
	}
	for i := range files {
		_, err := os.Stat(files[i].Path)
		switch {
		case err == nil:
			files[i].Exists = true
		case !errors.Is(err, os.ErrNotExist):
			files[i].Err = err
		}
	}
	return files
}
