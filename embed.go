package cmdrunner

import (
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

const (
	embedLimitTitle       = 256
	embedLimitDescription = 4096
	embedLimitFooter      = 2048
)

// Embed is a wrapper around *discordgo.MessageEmbed
type Embed struct {
	*discordgo.MessageEmbed
}

// NewEmbed returns a new Embed with no fields set
func NewEmbed() *Embed {
	return &Embed{&discordgo.MessageEmbed{}}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// SetTitle sets the Embed's Title to title. Will truncate title if it
// is too long. Returns the modified Embed.
func (e *Embed) SetTitle(title string) *Embed {
	e.Title = truncate(title, embedLimitTitle)
	return e
}

// SetDescription sets the Embed's Description to description. Will
// truncate description if it is too long. Returns the modified Embed.
func (e *Embed) SetDescription(description string) *Embed {
	e.Description = truncate(description, embedLimitDescription)
	return e
}

// SetFooter sets the footer text.
func (e *Embed) SetFooter(text string) *Embed {
	e.Footer = &discordgo.MessageEmbedFooter{Text: truncate(text, embedLimitFooter)}
	return e
}

// SetColor sets the border color of the Embed. Returns the modified
// Embed.
func (e *Embed) SetColor(color int) *Embed {
	e.Color = color
	return e
}
