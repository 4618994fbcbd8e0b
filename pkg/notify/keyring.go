package notify

import (
	"github.com/pkg/errors"
	gokeyring "github.com/zalando/go-keyring"
)

const (
	keyringService = "gk"
	keyringUser    = "discord-webhook-url"
)

// IsNotFound reports whether err means no webhook URL is stored.
func IsNotFound(err error) bool {
	return errors.Is(err, gokeyring.ErrNotFound)
}

// StoredWebhookURL returns the webhook URL saved in the system keychain.
func StoredWebhookURL() (string, error) {
	return gokeyring.Get(keyringService, keyringUser)
}

// StoreWebhookURL saves the webhook URL in the system keychain.
func StoreWebhookURL(url string) error {
	return gokeyring.Set(keyringService, keyringUser, url)
}

// DeleteWebhookURL removes the saved webhook URL.
func DeleteWebhookURL() error {
	return gokeyring.Delete(keyringService, keyringUser)
}
