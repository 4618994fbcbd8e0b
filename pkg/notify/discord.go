package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"

	"github.com/gemini-kit/gk/pkg/logger"
)

// Discord message limits.
const (
	MaxContentLength     = 2000
	MaxDescriptionLength = 4096
)

const (
	colorInfo    = 0x5865F2
	colorSuccess = 0x57F287
	colorWarning = 0xFEE75C
	colorFailure = 0xED4245
)

var webhookHosts = map[string]bool{
	"discord.com":        true,
	"discordapp.com":     true,
	"canary.discord.com": true,
	"ptb.discord.com":    true,
}

// ParseWebhookURL extracts the webhook ID and token from a Discord webhook
// URL such as https://discord.com/api/webhooks/<id>/<token>.
func ParseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", errors.Wrap(err, "invalid webhook url")
	}
	if u.Scheme != "https" || !webhookHosts[strings.ToLower(u.Host)] {
		return "", "", errors.Errorf("not a discord webhook url: %s", u.Redacted())
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	// api/webhooks/<id>/<token> or api/v10/webhooks/<id>/<token>
	if len(parts) == 5 && strings.HasPrefix(parts[1], "v") {
		parts = append(parts[:1], parts[2:]...)
	}
	if len(parts) != 4 || parts[0] != "api" || parts[1] != "webhooks" || parts[2] == "" || parts[3] == "" {
		return "", "", errors.New("webhook url must look like https://discord.com/api/webhooks/<id>/<token>")
	}
	for _, r := range parts[2] {
		if r < '0' || r > '9' {
			return "", "", errors.New("webhook id must be numeric")
		}
	}
	return parts[2], parts[3], nil
}

// DiscordOptions configures a Discord notifier.
type DiscordOptions struct {
	WebhookURL string
	Username   string
	AvatarURL  string
	Mention    string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	HTTPClient *http.Client
}

// Discord posts events as embeds to a Discord webhook.
type Discord struct {
	session    *discordgo.Session
	client     *http.Client
	webhookID  string
	token      string
	username   string
	avatarURL  string
	mention    string
	attempts   uint
	retryDelay time.Duration
}

// NewDiscord validates the webhook URL and prepares a notifier.
func NewDiscord(opts DiscordOptions) (*Discord, error) {
	id, token, err := ParseWebhookURL(opts.WebhookURL)
	if err != nil {
		return nil, err
	}

	// Webhook execution needs no bot token.
	session, err := discordgo.New("")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create discord session")
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if opts.Timeout > 0 {
		c := *client
		c.Timeout = opts.Timeout
		client = &c
	}

	attempts := uint(1)
	if opts.Retries > 0 {
		attempts += uint(opts.Retries)
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}

	return &Discord{
		session:    session,
		client:     client,
		webhookID:  id,
		token:      token,
		username:   opts.Username,
		avatarURL:  opts.AvatarURL,
		mention:    opts.Mention,
		attempts:   attempts,
		retryDelay: delay,
	}, nil
}

// Notify posts event, retrying transient failures.
func (d *Discord) Notify(ctx context.Context, event Event) error {
	params := d.params(event)

	err := retry.Do(
		func() error {
			_, err := d.session.WebhookExecute(d.webhookID, d.token, false, params,
				discordgo.WithContext(ctx),
				discordgo.WithClient(d.client),
				discordgo.WithRestRetries(0),
				discordgo.WithRetryOnRatelimit(false),
			)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(d.attempts),
		retry.Delay(d.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).
				WithField("attempt", n+1).
				WithField("event", event.Type).
				Debug("retrying discord webhook")
		}),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to post %s event to discord", event.Type)
	}
	return nil
}

func (d *Discord) params(event Event) *discordgo.WebhookParams {
	title := event.Title
	if title == "" {
		title = DefaultTitle(event.Type)
	}

	embed := &discordgo.MessageEmbed{
		Title:       truncate(title, 256),
		Description: truncate(event.Message, MaxDescriptionLength),
		Color:       statusColor(event.Status),
		Footer:      &discordgo.MessageEmbedFooter{Text: "gk · " + event.Type},
	}
	if !event.Timestamp.IsZero() {
		embed.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	addField := func(name, value string) {
		if value != "" {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: name, Value: truncate(value, 1024), Inline: true})
		}
	}
	addField("Project", event.Project)
	addField("Session", event.SessionID)
	addField("Agent", event.Agent)
	if event.Duration > 0 {
		addField("Duration", event.Duration.Round(time.Second).String())
	}

	content := title
	if d.mention != "" {
		content = d.mention + " " + title
	}

	return &discordgo.WebhookParams{
		Content:   truncate(content, MaxContentLength),
		Username:  d.username,
		AvatarURL: d.avatarURL,
		Embeds:    []*discordgo.MessageEmbed{embed},
	}
}

// DefaultTitle is the embed title used when an event carries none.
func DefaultTitle(eventType string) string {
	switch eventType {
	case "session_start":
		return "Session started"
	case "session_end":
		return "Session ended"
	case "subagent_start":
		return "Sub-agent started"
	case "subagent_stop":
		return "Sub-agent finished"
	case "notification":
		return "Agent notification"
	case "test":
		return "gk test notification"
	default:
		return fmt.Sprintf("gk event: %s", eventType)
	}
}

func statusColor(status string) int {
	switch status {
	case "completed", "ended":
		return colorSuccess
	case "interrupted":
		return colorWarning
	case "failed":
		return colorFailure
	default:
		return colorInfo
	}
}

// isRetryable retries network errors, rate limits and server errors.
func isRetryable(err error) bool {
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		if rest.Response == nil {
			return true
		}
		code := rest.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	return true
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
