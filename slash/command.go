// Package slash resolves slash command definitions for a target bot, builds
// application command interactions and sends them to Discord.
package slash

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// Scope is where a command definition was found.
type Scope string

const (
	ScopeServer Scope = "server"
	ScopeGlobal Scope = "global"
)

// ExecPath is how an interaction was delivered.
type ExecPath string

const (
	ExecDirect ExecPath = "direct"
	ExecAPI    ExecPath = "api"
)

// Command is a resolved command definition. It has the same shape whether
// it came from the server command index or from the application's global
// command list.
type Command struct {
	*discordgo.ApplicationCommand
	Scope Scope
}

// Invocation is a job name split into its command path.
type Invocation struct {
	Command    string
	Group      string
	Subcommand string
}

// ParseName splits "cmd", "cmd sub" or "cmd group sub".
func ParseName(name string) Invocation {
	parts := strings.Fields(name)
	var inv Invocation
	switch {
	case len(parts) >= 3:
		inv.Group = parts[1]
		inv.Subcommand = parts[2]
	case len(parts) == 2:
		inv.Subcommand = parts[1]
	}
	if len(parts) > 0 {
		inv.Command = parts[0]
	}
	return inv
}

func (inv Invocation) String() string {
	return strings.Join(strings.Fields(inv.Command+" "+inv.Group+" "+inv.Subcommand), " ")
}

// Catalog lists the command definitions visible for a bot.
type Catalog interface {
	// ServerCommands lists the bot's commands usable in the channel's guild.
	ServerCommands(ctx context.Context, channelID, botID string) ([]*discordgo.ApplicationCommand, error)
	// GlobalCommands lists the bot's application-global commands.
	GlobalCommands(ctx context.Context, botID string) ([]*discordgo.ApplicationCommand, error)
}

// Resolver finds command definitions, preferring a previously learned scope.
type Resolver struct {
	Catalog Catalog
	Log     zerolog.Logger
}

// Resolve looks up name for botID. When cached is set that scope is tried
// first; on a miss both scopes are searched, server first.
func (r *Resolver) Resolve(ctx context.Context, channelID, botID, name string, cached Scope) (*Command, error) {
	if cached != "" {
		if cmd := r.lookup(ctx, cached, channelID, botID, name); cmd != nil {
			r.Log.Debug().Str("command", name).Str("scope", string(cached)).Msg("resolved from cached scope")
			return cmd, nil
		}
		r.Log.Debug().Str("command", name).Str("scope", string(cached)).Msg("cached scope missed, searching all scopes")
	}

	for _, scope := range []Scope{ScopeServer, ScopeGlobal} {
		if scope == cached {
			continue
		}
		if cmd := r.lookup(ctx, scope, channelID, botID, name); cmd != nil {
			return cmd, nil
		}
	}
	return nil, errors.Wrapf(ErrCommandNotFound, "/%s for bot %s", name, botID)
}

func (r *Resolver) lookup(ctx context.Context, scope Scope, channelID, botID, name string) *Command {
	var (
		cmds []*discordgo.ApplicationCommand
		err  error
	)
	switch scope {
	case ScopeServer:
		cmds, err = r.Catalog.ServerCommands(ctx, channelID, botID)
	case ScopeGlobal:
		cmds, err = r.Catalog.GlobalCommands(ctx, botID)
	default:
		return nil
	}
	if err != nil {
		r.Log.Debug().Err(err).Str("scope", string(scope)).Str("bot_id", botID).Msg("command listing failed")
		return nil
	}

	for _, c := range cmds {
		if c == nil || c.Name != name {
			continue
		}
		if c.ApplicationID == "" {
			c.ApplicationID = botID
		} else if c.ApplicationID != botID {
			continue
		}
		return &Command{ApplicationCommand: c, Scope: scope}
	}
	return nil
}
