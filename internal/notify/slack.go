package notify

import (
	"context"

	"github.com/pkg/errors"
	"github.com/slack-go/slack"
)

// SlackMessenger sends direct messages through the Slack Web API.
type SlackMessenger struct {
	client *slack.Client
}

// NewSlackMessenger creates a messenger authenticated with a bot token. Extra client options
// (for example slack.OptionAPIURL in tests) are passed through.
func NewSlackMessenger(token string, opts ...slack.Option) *SlackMessenger {
	return &SlackMessenger{client: slack.New(token, opts...)}
}

// SendDirect looks the user up by e-mail, opens a direct conversation, posts msg and closes
// the conversation again.
func (s *SlackMessenger) SendDirect(ctx context.Context, email string, msg SlackMessage) error {
	user, err := s.client.GetUserByEmailContext(ctx, email)
	if err != nil {
		return errors.Wrapf(err, "unable to look up slack user for %s", email)
	}

	channel, _, _, err := s.client.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users: []string{user.ID},
	})
	if err != nil {
		return errors.Wrap(err, "unable to open conversation")
	}

	blocks := make([]slack.Block, 0, len(msg.Sections))
	for _, section := range msg.Sections {
		text := slack.NewTextBlockObject(slack.MarkdownType, section, false, false)
		blocks = append(blocks, slack.NewSectionBlock(text, nil, nil))
	}

	_, _, err = s.client.PostMessageContext(ctx, channel.ID,
		slack.MsgOptionText(msg.Text, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return errors.Wrap(err, "unable to post message")
	}

	if _, _, err := s.client.CloseConversationContext(ctx, channel.ID); err != nil {
		return errors.Wrap(err, "unable to close conversation")
	}
	return nil
}
