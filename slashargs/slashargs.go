// Package slashargs turns the flat key=value argument text stored on a job
// into typed slash command options.
package slashargs

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/kballard/go-shellquote"
)

// Pair is one key=value argument.
type Pair struct {
	Key   string
	Value string
}

type aliasKey struct {
	command string
	param   string
}

// paramAliases rewrites a parameter name for one specific command. It only
// holds known incompatibilities between how users type a parameter and what
// the target bot declares.
var paramAliases = map[aliasKey]string{
	{command: "8ball", param: "pregunta"}: "question",
}

// Parse splits raw argument text into key=value pairs. Values may be double
// quoted to span several words; an unquoted value also absorbs every
// following word up to the next key= token. Words that are not part of a
// pair are dropped. When a key repeats, the pair keeps the position of its
// first occurrence and the value of its last.
func Parse(raw string) []Pair {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	tokens, err := shellquote.Split(autoQuote(strings.Fields(raw)))
	if err != nil {
		tokens = strings.Fields(raw)
	}

	var pairs []Pair
	index := make(map[string]int)
	for _, tok := range tokens {
		key, value, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if i, seen := index[key]; seen {
			pairs[i].Value = value
			continue
		}
		index[key] = len(pairs)
		pairs = append(pairs, Pair{Key: key, Value: value})
	}
	return pairs
}

// autoQuote rebuilds the argument line with every token enclosed in double
// quotes, so shell-style splitting keeps multi-word values whole and treats
// apostrophes, backslashes and other punctuation as plain text.
func autoQuote(parts []string) string {
	out := make([]string, 0, len(parts))
	for i := 0; i < len(parts); i++ {
		part := parts[i]
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			out = append(out, quote(part))
			continue
		}

		if strings.HasPrefix(value, `"`) {
			if len(value) > 1 && strings.HasSuffix(value, `"`) {
				out = append(out, quote(key+"="+value[1:len(value)-1]))
				continue
			}
			words := []string{value[1:]}
			for i++; i < len(parts); i++ {
				if strings.HasSuffix(parts[i], `"`) {
					words = append(words, strings.TrimSuffix(parts[i], `"`))
					break
				}
				words = append(words, parts[i])
			}
			out = append(out, quote(key+"="+strings.Join(words, " ")))
			continue
		}

		words := []string{value}
		for i+1 < len(parts) && !strings.Contains(parts[i+1], "=") {
			i++
			words = append(words, parts[i])
		}
		out = append(out, quote(key+"="+strings.Join(words, " ")))
	}
	return strings.Join(out, " ")
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`")
	return `"` + r.Replace(s) + `"`
}

// Encode converts pairs into interaction options for command. schema holds
// the option definitions of the leaf the options attach to (the command
// itself or one of its subcommands) and may be nil.
func Encode(command string, schema []*discordgo.ApplicationCommandOption, pairs []Pair) []*discordgo.ApplicationCommandInteractionDataOption {
	opts := make([]*discordgo.ApplicationCommandInteractionDataOption, 0, len(pairs))
	for _, p := range pairs {
		name := p.Key
		if alias, ok := paramAliases[aliasKey{command: command, param: name}]; ok {
			name = alias
		}
		opts = append(opts, encodeOne(name, p.Value, findOption(schema, name)))
	}
	return opts
}

func findOption(schema []*discordgo.ApplicationCommandOption, name string) *discordgo.ApplicationCommandOption {
	for _, o := range schema {
		if o != nil && o.Name == name {
			return o
		}
	}
	return nil
}

func encodeOne(name, raw string, def *discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandInteractionDataOption {
	clean := strings.Trim(raw, `"'`)

	var final interface{} = clean
	optType := discordgo.ApplicationCommandOptionString
	if def != nil {
		optType = def.Type
		for _, c := range def.Choices {
			if c == nil {
				continue
			}
			if clean == c.Name || clean == fmt.Sprint(c.Value) {
				final = c.Value
				break
			}
		}
	}

	text := fmt.Sprint(final)
	opt := &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: optType}

	switch optType {
	case discordgo.ApplicationCommandOptionInteger:
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			opt.Value = n
		} else if f, err := strconv.ParseFloat(text, 64); err == nil && f >= math.MinInt64 && f < math.MaxInt64 {
			opt.Value = int64(f)
		} else {
			opt.Type = discordgo.ApplicationCommandOptionString
			opt.Value = text
		}
	case discordgo.ApplicationCommandOptionNumber:
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			opt.Value = f
		} else {
			opt.Type = discordgo.ApplicationCommandOptionString
			opt.Value = text
		}
	case discordgo.ApplicationCommandOptionBoolean:
		switch strings.ToLower(text) {
		case "true", "1", "yes", "on":
			opt.Value = true
		default:
			opt.Value = false
		}
	case discordgo.ApplicationCommandOptionUser,
		discordgo.ApplicationCommandOptionMentionable,
		discordgo.ApplicationCommandOptionChannel,
		discordgo.ApplicationCommandOptionRole,
		discordgo.ApplicationCommandOptionString:
		// snowflake ids travel as strings
		opt.Value = text
	default:
		opt.Type = discordgo.ApplicationCommandOptionString
		opt.Value = text
	}
	return opt
}
