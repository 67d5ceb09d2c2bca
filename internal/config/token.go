package config

import (
	"crypto/rand"
	"fmt"
	"os"
)

const apiTokenAccount = "api_token"

// Keychain reads and writes secrets in the platform secret store.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

type platformKeychain struct {
	keychainReader
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// NewKeychain returns the platform secret store.
func NewKeychain() Keychain {
	return platformKeychain{}
}

// GetAPIToken returns the bearer token protecting POST /sync. The token comes
// from TGXSYNC_API_TOKEN or the keychain; when neither has one, a new token
// is generated and stored so the daemon and the CLI agree on it.
func GetAPIToken(kc Keychain) (string, error) {
	if v := os.Getenv("TGXSYNC_API_TOKEN"); v != "" {
		return v, nil
	}
	if v, err := kc.Get(keychainService, apiTokenAccount); err == nil && v != "" {
		return v, nil
	}

	token := rand.Text()
	if err := kc.Set(keychainService, apiTokenAccount, token); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return token, nil
}
