package alerts

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// ChatTransport delivers a message to chat channels.
type ChatTransport interface {
	Send(ctx context.Context, message string, channels []string) error
}

// messageSender is the part of a shoutrrr router used here.
type messageSender interface {
	Send(message string, params *types.Params) []error
}

type senderFactory func(urls ...string) (messageSender, error)

func shoutrrrSender(urls ...string) (messageSender, error) {
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, err
	}
	return sender, nil
}

// Slack sends chat alerts through a Slack bot token.
type Slack struct {
	token     string
	botName   string
	newSender senderFactory
}

var _ ChatTransport = (*Slack)(nil)

// NewSlack creates a Slack transport from the routing config.
func NewSlack(cfg SlackConfig) (*Slack, error) {
	if cfg.Token == "" {
		return nil, errors.New("slack token is required")
	}
	if _, _, ok := strings.Cut(cfg.Token, "-"); !ok {
		return nil, errors.New("slack token must look like xoxb-...")
	}
	return &Slack{token: cfg.Token, botName: cfg.BotName, newSender: shoutrrrSender}, nil
}

// Send posts message to every channel. A failing channel does not stop
// delivery to the others.
func (s *Slack) Send(ctx context.Context, message string, channels []string) error {
	if len(channels) == 0 {
		return errors.New("no slack channels to send to")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	urls := make([]string, 0, len(channels))
	for _, ch := range channels {
		urls = append(urls, s.serviceURL(ch))
	}
	sender, err := s.newSender(urls...)
	if err != nil {
		return fmt.Errorf("creating slack sender: %w", err)
	}
	var errs []error
	for i, e := range sender.Send(message, &types.Params{}) {
		if e != nil {
			errs = append(errs, fmt.Errorf("sending to slack channel %s: %w", channelAt(channels, i), e))
		}
	}
	return errors.Join(errs...)
}

// serviceURL builds a shoutrrr slack URL: slack://xoxb:<token>@<channel>.
func (s *Slack) serviceURL(channel string) string {
	tokenType, token, _ := strings.Cut(s.token, "-")
	u := url.URL{
		Scheme: "slack",
		User:   url.UserPassword(tokenType, token),
		Host:   strings.TrimPrefix(channel, "#"),
	}
	if s.botName != "" {
		u.RawQuery = url.Values{"botname": []string{s.botName}}.Encode()
	}
	return u.String()
}

func channelAt(channels []string, i int) string {
	if i < len(channels) {
		return channels[i]
	}
	return "unknown"
}
