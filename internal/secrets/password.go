package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/montabano1/RyanScraper/internal/config"

	"github.com/zalando/go-keyring"
)

const (
	// "Service" groups the app's secrets in the OS keychain.
	KeyringService = "ryanscraper"
)

var ErrNoPassword = errors.New("database password not found in keychain")

func GetDBPassword(keyringAccount string) (string, error) {
	if strings.TrimSpace(keyringAccount) == "" {
		return "", ErrNoPassword
	}
	pw, err := keyring.Get(KeyringService, keyringAccount)
	if err != nil || strings.TrimSpace(pw) == "" {
		return "", ErrNoPassword
	}
	return pw, nil
}

func SetDBPassword(keyringAccount string, password string) error {
	if strings.TrimSpace(keyringAccount) == "" {
		return errors.New("keyring account name is empty")
	}
	if strings.TrimSpace(password) == "" {
		return errors.New("password is empty")
	}
	return keyring.Set(KeyringService, keyringAccount, password)
}

func DeleteDBPassword(keyringAccount string) error {
	if strings.TrimSpace(keyringAccount) == "" {
		return errors.New("keyring account name is empty")
	}
	return keyring.Delete(KeyringService, keyringAccount)
}

// KeyringAccount is the keychain entry for the configured postgres store.
// An explicit store.keyring_account wins; otherwise it is derived from the DSN.
func KeyringAccount(cfg config.Config) string {
	if a := strings.TrimSpace(cfg.Store.KeyringAccount); a != "" {
		return a
	}
	u, err := url.Parse(cfg.Store.PostgresDSN)
	if err != nil || u.Host == "" || u.User == nil {
		return ""
	}
	return fmt.Sprintf("ryanscraper:postgres:%s@%s%s", u.User.Username(), u.Host, u.Path)
}

// ResolveDSN fills in the password from the keychain when dsn carries none.
// Both URL (postgres://...) and key=value DSNs are handled. A missing keychain
// entry leaves dsn untouched so pgpass or trust auth still work.
func ResolveDSN(dsn, keyringAccount string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if keyringAccount == "" {
		return dsn, nil
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse postgres dsn: %w", err)
		}
		if u.User != nil {
			if _, ok := u.User.Password(); ok {
				return dsn, nil
			}
		}
		pw, err := GetDBPassword(keyringAccount)
		if err != nil {
			return dsn, nil
		}
		user := ""
		if u.User != nil {
			user = u.User.Username()
		}
		u.User = url.UserPassword(user, pw)
		return u.String(), nil
	}

	for _, kv := range strings.Fields(dsn) {
		if strings.HasPrefix(kv, "password=") {
			return dsn, nil
		}
	}
	pw, err := GetDBPassword(keyringAccount)
	if err != nil {
		return dsn, nil
	}
	return dsn + " password=" + quoteValue(pw), nil
}

// quoteValue follows libpq key=value quoting.
func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
