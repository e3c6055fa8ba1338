package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackConfig configures the Slack notifier.
type SlackConfig struct {
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
	Username string `json:"username,omitempty"`
	IconURL  string `json:"icon_url,omitempty"`
	Emoji    string `json:"emoji,omitempty"` // fallback if no icon_url, e.g. ":brain:"
	APIURL   string `json:"api_url,omitempty"`
}

// Slack posts notices to one channel as the persona.
type Slack struct {
	client *slack.Client
	cfg    SlackConfig
	logger *zap.Logger
}

// NewSlack creates a Slack notifier.
func NewSlack(cfg SlackConfig, logger *zap.Logger) (*Slack, error) {
	if cfg.BotToken == "" || cfg.Channel == "" {
		return nil, fmt.Errorf("slack notifier needs bot_token and channel")
	}
	var opts []slack.Option
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	return &Slack{client: slack.New(cfg.BotToken, opts...), cfg: cfg, logger: logger}, nil
}

func (s *Slack) Platform() string { return "slack" }

func (s *Slack) Notify(ctx context.Context, n *Notice) error {
	opts := []slack.MsgOption{
		slack.MsgOptionText(fmt.Sprintf("*[%s] %s*\n%s", n.Kind, n.Title, n.Content), false),
	}
	if s.cfg.Username != "" {
		opts = append(opts, slack.MsgOptionUsername(s.cfg.Username))
	}
	if s.cfg.IconURL != "" {
		opts = append(opts, slack.MsgOptionIconURL(s.cfg.IconURL))
	} else if s.cfg.Emoji != "" {
		opts = append(opts, slack.MsgOptionIconEmoji(s.cfg.Emoji))
	}
	if _, _, err := s.client.PostMessageContext(ctx, s.cfg.Channel, opts...); err != nil {
		s.logger.Error("slack send failed", zap.String("channel", s.cfg.Channel), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

func (s *Slack) Close() error { return nil }
