package notify

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/gemini-kit/gk/pkg/config"
	"github.com/gemini-kit/gk/pkg/logger"
)

// WebhookURLEnv overrides the configured webhook URL.
const WebhookURLEnv = "DISCORD_WEBHOOK_URL"

// ErrNoWebhook is returned when no Discord webhook URL can be found.
var ErrNoWebhook = errors.New("no discord webhook url configured")

// ResolveWebhookURL picks the webhook URL from config, then the environment,
// then the system keychain.
func ResolveWebhookURL(ctx context.Context, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if env := os.Getenv(WebhookURLEnv); env != "" {
		return env, nil
	}

	stored, err := StoredWebhookURL()
	if err == nil && stored != "" {
		return stored, nil
	}
	if err != nil && !IsNotFound(err) {
		logger.G(ctx).WithError(err).Debug("keychain lookup failed")
	}
	return "", ErrNoWebhook
}

// FromConfig builds the notifier described by cfg. Disabled notifications
// yield Nop. Enabled ones log every event and forward the filtered ones to
// Discord.
func FromConfig(ctx context.Context, cfg config.NotifyConfig) (Notifier, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}

	webhookURL, err := ResolveWebhookURL(ctx, cfg.Discord.WebhookURL)
	if err != nil {
		return nil, err
	}

	discord, err := NewDiscord(DiscordOptions{
		WebhookURL: webhookURL,
		Username:   cfg.Discord.Username,
		AvatarURL:  cfg.Discord.AvatarURL,
		Mention:    cfg.Discord.Mention,
		Timeout:    cfg.Timeout,
		Retries:    cfg.Retries,
	})
	if err != nil {
		return nil, err
	}

	filtered, err := NewFilter(discord, cfg.Events)
	if err != nil {
		return nil, err
	}
	return Multi{Log{}, filtered}, nil
}
