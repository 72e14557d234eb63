package cmdrunner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/anorb/cmdrunner/slash"
)

// Host is the Discord surface the runner drives.
type Host interface {
	slash.Catalog
	slash.Invoker

	// SelfID is the id of the account the runner acts as.
	SelfID() string
	// SessionID is the gateway session id sent with interactions.
	SessionID() string
	GuildID(channelID string) string
	ChannelName(channelID string) string

	Typing(channelID string) error
	Send(channelID, content string) (*discordgo.Message, error)
	Delete(channelID, messageID string) error
}

type session struct {
	*discordgo.Session
	log zerolog.Logger

	// fallbackSessionID is used until the gateway reports a session.
	fallbackSessionID string
}

func newSession(token string, log zerolog.Logger) (*session, error) {
	s, err := discordgo.New(token)
	if err != nil {
		return nil, errors.Wrap(err, "create discord session")
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	return &session{
		Session:           s,
		log:               log.With().Str("component", "session").Logger(),
		fallbackSessionID: strings.ReplaceAll(uuid.NewString(), "-", ""),
	}, nil
}

func (ss *session) SelfID() string {
	if ss.State == nil || ss.State.User == nil {
		return ""
	}
	return ss.State.User.ID
}

func (ss *session) SessionID() string {
	if ss.State != nil && ss.State.SessionID != "" {
		return ss.State.SessionID
	}
	return ss.fallbackSessionID
}

func (ss *session) channel(channelID string) (*discordgo.Channel, error) {
	if ss.State != nil {
		if ch, err := ss.State.Channel(channelID); err == nil {
			return ch, nil
		}
	}
	return ss.Channel(channelID)
}

func (ss *session) GuildID(channelID string) string {
	ch, err := ss.channel(channelID)
	if err != nil {
		ss.log.Debug().Err(err).Str("channel_id", channelID).Msg("channel lookup failed")
		return ""
	}
	return ch.GuildID
}

func (ss *session) ChannelName(channelID string) string {
	ch, err := ss.channel(channelID)
	if err != nil {
		return ""
	}
	return ch.Name
}

// ServerCommands uses the channel's application command index, which lists
// the guild-scoped commands of every installed application.
func (ss *session) ServerCommands(ctx context.Context, channelID, botID string) ([]*discordgo.ApplicationCommand, error) {
	q := url.Values{}
	q.Set("type", "1")
	q.Set("application_id", botID)
	endpoint := discordgo.EndpointChannel(channelID) + "/application-commands/search"

	body, err := ss.RequestWithBucketID(http.MethodGet, endpoint+"?"+q.Encode(), nil, endpoint, discordgo.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "search commands in channel %s", channelID)
	}
	var res struct {
		Commands []*discordgo.ApplicationCommand `json:"application_commands"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, errors.Wrap(err, "decode command search")
	}
	return res.Commands, nil
}

func (ss *session) GlobalCommands(ctx context.Context, botID string) ([]*discordgo.ApplicationCommand, error) {
	cmds, err := ss.ApplicationCommands(botID, "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "list global commands of %s", botID)
	}
	return cmds, nil
}

// Invoke sends a server-scoped interaction through the session's own REST
// client. Global definitions are listing-only and cannot be invoked here.
func (ss *session) Invoke(ctx context.Context, cmd *slash.Command, payload *slash.Interaction) error {
	if cmd.Scope != slash.ScopeServer {
		return slash.ErrNotInvokable
	}
	endpoint := discordgo.EndpointAPI + "interactions"
	if _, err := ss.RequestWithBucketID(http.MethodPost, endpoint, payload, endpoint, discordgo.WithContext(ctx)); err != nil {
		return errors.Wrapf(err, "invoke /%s", cmd.Name)
	}
	return nil
}

func (ss *session) Typing(channelID string) error {
	return ss.ChannelTyping(channelID)
}

// Send is a helper around ChannelMessageSend that logs failures.
func (ss *session) Send(channelID, content string) (*discordgo.Message, error) {
	m, err := ss.ChannelMessageSend(channelID, content)
	if err != nil {
		ss.log.Error().Err(err).Str("channel_id", channelID).Msg("failed to send message")
		return nil, err
	}
	return m, nil
}

func (ss *session) Delete(channelID, messageID string) error {
	err := ss.ChannelMessageDelete(channelID, messageID)
	if err != nil {
		ss.log.Debug().Err(err).Str("message_id", messageID).Msg("failed to delete message")
	}
	return err
}
