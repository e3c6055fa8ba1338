package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordConfig configures the Discord webhook notifier.
type DiscordConfig struct {
	WebhookID    string `json:"webhook_id"`
	WebhookToken string `json:"webhook_token"`
	Username     string `json:"username,omitempty"`
	AvatarURL    string `json:"avatar_url,omitempty"`
}

// Discord posts notices through a channel webhook. No gateway connection
// is opened.
type Discord struct {
	session *discordgo.Session
	cfg     DiscordConfig
	logger  *zap.Logger
}

// NewDiscord creates a Discord notifier. client may be nil.
func NewDiscord(cfg DiscordConfig, client *http.Client, logger *zap.Logger) (*Discord, error) {
	if cfg.WebhookID == "" || cfg.WebhookToken == "" {
		return nil, fmt.Errorf("discord notifier needs webhook_id and webhook_token")
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	if client != nil {
		session.Client = client
	}
	return &Discord{session: session, cfg: cfg, logger: logger}, nil
}

func (d *Discord) Platform() string { return "discord" }

func (d *Discord) Notify(ctx context.Context, n *Notice) error {
	params := &discordgo.WebhookParams{
		Content:   fmt.Sprintf("**[%s] %s**\n%s", n.Kind, n.Title, n.Content),
		Username:  d.cfg.Username,
		AvatarURL: d.cfg.AvatarURL,
	}
	_, err := d.session.WebhookExecute(d.cfg.WebhookID, d.cfg.WebhookToken, false, params, discordgo.WithContext(ctx))
	if err != nil {
		d.logger.Error("discord webhook failed", zap.Error(err))
		return fmt.Errorf("discord webhook execute: %w", err)
	}
	return nil
}

func (d *Discord) Close() error { return nil }
