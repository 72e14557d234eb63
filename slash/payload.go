package slash

import (
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/anorb/cmdrunner/slashargs"
)

// Interaction is the body of POST /interactions for an application command.
type Interaction struct {
	Type          discordgo.InteractionType `json:"type"`
	ApplicationID string                    `json:"application_id"`
	GuildID       string                    `json:"guild_id,omitempty"`
	ChannelID     string                    `json:"channel_id"`
	SessionID     string                    `json:"session_id"`
	Nonce         string                    `json:"nonce"`
	Data          InteractionData           `json:"data"`
}

// InteractionData identifies the command and carries its options.
type InteractionData struct {
	Version string                                               `json:"version"`
	ID      string                                               `json:"id"`
	Name    string                                               `json:"name"`
	Type    discordgo.ApplicationCommandType                     `json:"type"`
	Options []*discordgo.ApplicationCommandInteractionDataOption `json:"options"`
}

// Target is where an interaction is issued.
type Target struct {
	ChannelID string
	GuildID   string
	SessionID string
}

// BuildInteraction assembles the interaction for cmd. Arguments attach to
// the command itself, to a SUB_COMMAND option, or to a SUB_COMMAND inside a
// SUB_COMMAND_GROUP depending on inv.
func BuildInteraction(cmd *Command, inv Invocation, target Target, args []slashargs.Pair, now time.Time) *Interaction {
	version := cmd.Version
	if version == "" {
		version = "1"
	}

	payload := &Interaction{
		Type:          discordgo.InteractionApplicationCommand,
		ApplicationID: cmd.ApplicationID,
		GuildID:       target.GuildID,
		ChannelID:     target.ChannelID,
		SessionID:     target.SessionID,
		Nonce:         strconv.FormatInt(now.UnixMilli(), 10),
		Data: InteractionData{
			Version: version,
			ID:      cmd.ID,
			Name:    inv.Command,
			Type:    discordgo.ChatApplicationCommand,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{},
		},
	}

	switch {
	case inv.Group != "" && inv.Subcommand != "":
		group := findSub(cmd.Options, inv.Group, discordgo.ApplicationCommandOptionSubCommandGroup)
		var leafSchema []*discordgo.ApplicationCommandOption
		if group != nil {
			if leaf := findSub(group.Options, inv.Subcommand, discordgo.ApplicationCommandOptionSubCommand); leaf != nil {
				leafSchema = leaf.Options
			}
		}
		payload.Data.Options = append(payload.Data.Options, &discordgo.ApplicationCommandInteractionDataOption{
			Type: discordgo.ApplicationCommandOptionSubCommandGroup,
			Name: inv.Group,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{{
				Type:    discordgo.ApplicationCommandOptionSubCommand,
				Name:    inv.Subcommand,
				Options: slashargs.Encode(inv.Command, leafSchema, args),
			}},
		})
	case inv.Subcommand != "":
		var leafSchema []*discordgo.ApplicationCommandOption
		if leaf := findSub(cmd.Options, inv.Subcommand, discordgo.ApplicationCommandOptionSubCommand); leaf != nil {
			leafSchema = leaf.Options
		}
		payload.Data.Options = append(payload.Data.Options, &discordgo.ApplicationCommandInteractionDataOption{
			Type:    discordgo.ApplicationCommandOptionSubCommand,
			Name:    inv.Subcommand,
			Options: slashargs.Encode(inv.Command, leafSchema, args),
		})
	default:
		payload.Data.Options = append(payload.Data.Options, slashargs.Encode(inv.Command, cmd.Options, args)...)
	}
	return payload
}

func findSub(opts []*discordgo.ApplicationCommandOption, name string, typ discordgo.ApplicationCommandOptionType) *discordgo.ApplicationCommandOption {
	for _, o := range opts {
		if o != nil && o.Name == name && o.Type == typ {
			return o
		}
	}
	return nil
}
