package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name under which the appliance password is stored.
const KeyringService = "holectl"

// ResolvePassword returns the appliance password from the configured source.
func ResolvePassword(a ApplianceConfig) (string, error) {
	switch a.PasswordSource {
	case "", "config":
		return a.Password, nil
	case "env":
		name := a.PasswordEnv
		if name == "" {
			name = EnvPassword
		}
		v := os.Getenv(name)
		if v == "" {
			return "", fmt.Errorf("password env var %s is empty", name)
		}
		return v, nil
	case "keyring":
		pw, err := keyring.Get(KeyringService, keyringUser(a))
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("no password in keyring for %s (run 'holectl config set-password')", keyringUser(a))
		}
		if err != nil {
			return "", fmt.Errorf("keyring: %w", err)
		}
		return pw, nil
	default:
		return "", fmt.Errorf("unknown password source %q", a.PasswordSource)
	}
}

// StorePassword saves the appliance password in the OS keyring.
func StorePassword(a ApplianceConfig, password string) error {
	if err := keyring.Set(KeyringService, keyringUser(a), password); err != nil {
		return fmt.Errorf("keyring: %w", err)
	}
	return nil
}

func keyringUser(a ApplianceConfig) string {
	if a.KeyringUser != "" {
		return a.KeyringUser
	}
	return a.URL
}
