package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/and161185/authserver/internal/api"
)

// tokenFile is the locally cached pair with absolute expiry times.
type tokenFile struct {
	Token          string    `json:"token"`
	RefreshToken   string    `json:"refresh_token"`
	TokenExpires   time.Time `json:"token_expires"`
	RefreshExpires time.Time `json:"refresh_expires"`
}

var errLoginRequired = errors.New("no valid token (authorize or login first)")

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "authctl")
	}
	if d, err := os.UserConfigDir(); err == nil {
		return filepath.Join(d, "authctl")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "authctl")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func fromPair(p *api.TokenPair, now time.Time) tokenFile {
	return tokenFile{
		Token:          p.Token,
		RefreshToken:   p.RefreshToken,
		TokenExpires:   now.Add(time.Duration(p.TokenValidity) * time.Second),
		RefreshExpires: now.Add(time.Duration(p.RefreshTokenValidity) * time.Second),
	}
}

func saveTokens(tf tokenFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(tokenPath(), b, 0o600)
}

func loadTokens() (tokenFile, error) {
	var tf tokenFile
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return tf, errLoginRequired
		}
		return tf, err
	}
	if err := json.Unmarshal(b, &tf); err != nil {
		return tf, err
	}
	if tf.Token == "" {
		return tf, errLoginRequired
	}
	return tf, nil
}

func clearTokens() error {
	err := os.Remove(tokenPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
