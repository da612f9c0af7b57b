package secrets

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// "Service" groups the app's secrets in the OS keychain.
	KeyringService = "vintedfav"
)

// SetPassword stores the marketplace password in the OS keychain, keyed by
// account email. Returns an error when no keychain backend is available;
// callers fall back to encoded-in-DB storage.
func SetPassword(email string, password string) error {
	if strings.TrimSpace(email) == "" {
		return errors.New("account email is empty")
	}
	if strings.TrimSpace(password) == "" {
		return errors.New("password is empty")
	}
	return keyring.Set(KeyringService, email, password)
}

func GetPassword(email string) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", errors.New("account email is empty")
	}
	pw, err := keyring.Get(KeyringService, email)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(pw) == "" {
		return "", errors.New("empty password in keychain")
	}
	return pw, nil
}

func DeletePassword(email string) error {
	if strings.TrimSpace(email) == "" {
		return errors.New("account email is empty")
	}
	return keyring.Delete(KeyringService, email)
}

// Encode/Decode are the fallback at-rest representation when no keychain is
// available. Plain base64: obfuscation, not encryption.
func Encode(secret string) string {
	return base64.StdEncoding.EncodeToString([]byte(secret))
}

func Decode(encoded string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
