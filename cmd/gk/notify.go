package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gemini-kit/gk/pkg/notify"
	"github.com/gemini-kit/gk/pkg/presenter"
)

type NotifySendConfig struct {
	Event string
	Title string
}

func NewNotifySendConfig() *NotifySendConfig {
	return &NotifySendConfig{
		Event: "message",
		Title: "",
	}
}

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Send notifications and manage the Discord webhook",
	Long: `Send notifications and manage the Discord webhook.

The webhook URL is taken from notify.discord.webhook_url, then
$DISCORD_WEBHOOK_URL, then the system keychain ('gk notify login').`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var notifySendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a message to the configured webhook",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustLoadApp()
		config := getNotifySendConfigFromFlags(cmd)
		exitOnError(sendNotificationCmd(cmd.Context(), a, notify.Event{
			Type:    config.Event,
			Title:   config.Title,
			Message: args[0],
		}), "Failed to send notification")
		presenter.Success("Notification sent")
	},
}

var notifyTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a test notification",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		a := mustLoadApp()
		exitOnError(sendNotificationCmd(cmd.Context(), a, notify.Event{
			Type:    "test",
			Title:   "gk test notification",
			Message: "Notifications from gk reach this channel.",
		}), "Failed to send test notification")
		presenter.Success("Test notification sent")
	},
}

var notifyLoginCmd = &cobra.Command{
	Use:   "login <webhook-url>",
	Short: "Store the Discord webhook URL in the system keychain",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		exitOnError(loginNotifyCmd(args[0]), "Failed to store webhook URL")
		presenter.Success("Webhook URL stored in the system keychain")
	},
}

var notifyLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored Discord webhook URL",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		err := notify.DeleteWebhookURL()
		if notify.IsNotFound(err) {
			presenter.Info("No webhook URL stored")
			return
		}
		exitOnError(err, "Failed to remove webhook URL")
		presenter.Success("Webhook URL removed from the system keychain")
	},
}

func init() {
	defaults := NewNotifySendConfig()
	notifySendCmd.Flags().String("event", defaults.Event, "Event type recorded with the message")
	notifySendCmd.Flags().String("title", defaults.Title, "Embed title (derived from the event when empty)")

	notifyCmd.AddCommand(notifySendCmd)
	notifyCmd.AddCommand(notifyTestCmd)
	notifyCmd.AddCommand(notifyLoginCmd)
	notifyCmd.AddCommand(notifyLogoutCmd)
	rootCmd.AddCommand(notifyCmd)
}

func getNotifySendConfigFromFlags(cmd *cobra.Command) *NotifySendConfig {
	config := NewNotifySendConfig()
	if event, err := cmd.Flags().GetString("event"); err == nil && event != "" {
		config.Event = event
	}
	if title, err := cmd.Flags().GetString("title"); err == nil {
		config.Title = title
	}
	return config
}

// sendNotificationCmd posts directly to Discord. Manual sends ignore
// notify.enabled and the event filter.
func sendNotificationCmd(ctx context.Context, a *app, event notify.Event) error {
	cfg := a.cfg.Notify
	webhookURL, err := notify.ResolveWebhookURL(ctx, cfg.Discord.WebhookURL)
	if err != nil {
		return err
	}
	discord, err := notify.NewDiscord(notify.DiscordOptions{
		WebhookURL: webhookURL,
		Username:   cfg.Discord.Username,
		AvatarURL:  cfg.Discord.AvatarURL,
		Mention:    cfg.Discord.Mention,
		Timeout:    cfg.Timeout,
		Retries:    cfg.Retries,
	})
	if err != nil {
		return err
	}

	event.Project = a.projectRoot
	event.Timestamp = time.Now()
	return discord.Notify(ctx, event)
}

func loginNotifyCmd(webhookURL string) error {
	if _, _, err := notify.ParseWebhookURL(webhookURL); err != nil {
		return err
	}
	if err := notify.StoreWebhookURL(webhookURL); err != nil {
		return err
	}
	if env := os.Getenv(notify.WebhookURLEnv); env != "" {
		presenter.Warning(fmt.Sprintf("$%s is set and takes precedence over the keychain", notify.WebhookURLEnv))
	}
	return nil
}
