package slashargs

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuotedValue(t *testing.T) {
	pairs := Parse(`winners=2 prize="Nitro Monthly"`)
	require.Len(t, pairs, 2)
	assert.Equal(t, Pair{"winners", "2"}, pairs[0])
	assert.Equal(t, Pair{"prize", "Nitro Monthly"}, pairs[1])
}

func TestParseUnquotedMultiWord(t *testing.T) {
	pairs := Parse(`time=1h reward=Discord Premium count=5`)
	assert.Equal(t, []Pair{
		{"time", "1h"},
		{"reward", "Discord Premium"},
		{"count", "5"},
	}, pairs)
}

func TestParsePunctuationIsQuoted(t *testing.T) {
	pairs := Parse(`question=what's up? mood=¡bien!`)
	assert.Equal(t, []Pair{
		{"question", "what's up?"},
		{"mood", "¡bien!"},
	}, pairs)
}

func TestParseKeepsApostrophesAndBackslashes(t *testing.T) {
	assert.Equal(t, []Pair{
		{"a", "don't"},
		{"b", "hello world"},
	}, Parse(`a=don't b=hello world`))

	assert.Equal(t, []Pair{{"path", `C:\Users\me`}}, Parse(`path=C:\Users\me`))
	assert.Equal(t, []Pair{{"cost", "$5"}, {"tag", "`x`"}}, Parse("cost=$5 tag=`x`"))
}

func TestParseDuplicateKeysLastWins(t *testing.T) {
	pairs := Parse(`a=1 b=2 a=3`)
	assert.Equal(t, []Pair{{"a", "3"}, {"b", "2"}}, pairs)
}

func TestParseIgnoresLooseWords(t *testing.T) {
	assert.Empty(t, Parse("hello world"))
	assert.Nil(t, Parse("   "))
	assert.Equal(t, []Pair{{"k", "v"}}, Parse("loose k=v"))
}

func TestParseSingleQuoteCharacter(t *testing.T) {
	pairs := Parse(`msg=" hi`)
	require.Len(t, pairs, 1)
	assert.Equal(t, "msg", pairs[0].Key)
}

func TestEncodeSchemaTypes(t *testing.T) {
	schema := []*discordgo.ApplicationCommandOption{
		{Name: "winners", Type: discordgo.ApplicationCommandOptionInteger},
		{Name: "prize", Type: discordgo.ApplicationCommandOptionString},
		{Name: "ratio", Type: discordgo.ApplicationCommandOptionNumber},
		{Name: "public", Type: discordgo.ApplicationCommandOptionBoolean},
		{Name: "target", Type: discordgo.ApplicationCommandOptionUser},
	}
	pairs := Parse(`winners=2 prize="Nitro Monthly" ratio=0.5 public=YES target=123456789012345678`)
	opts := Encode("giveaway", schema, pairs)
	require.Len(t, opts, 5)

	assert.Equal(t, "winners", opts[0].Name)
	assert.Equal(t, discordgo.ApplicationCommandOptionInteger, opts[0].Type)
	assert.Equal(t, int64(2), opts[0].Value)

	assert.Equal(t, discordgo.ApplicationCommandOptionString, opts[1].Type)
	assert.Equal(t, "Nitro Monthly", opts[1].Value)

	assert.Equal(t, 0.5, opts[2].Value)
	assert.Equal(t, true, opts[3].Value)

	assert.Equal(t, discordgo.ApplicationCommandOptionUser, opts[4].Type)
	assert.Equal(t, "123456789012345678", opts[4].Value)
}

func TestEncodeWithoutSchemaDefaultsToString(t *testing.T) {
	opts := Encode("giveaway", nil, Parse(`winners=2 prize="Nitro Monthly"`))
	require.Len(t, opts, 2)
	assert.Equal(t, discordgo.ApplicationCommandOptionString, opts[0].Type)
	assert.Equal(t, "2", opts[0].Value)
	assert.Equal(t, "Nitro Monthly", opts[1].Value)
}

func TestEncodeIntegerCoercion(t *testing.T) {
	schema := []*discordgo.ApplicationCommandOption{
		{Name: "n", Type: discordgo.ApplicationCommandOptionInteger},
	}

	opts := Encode("x", schema, []Pair{{"n", "3.9"}})
	assert.Equal(t, int64(3), opts[0].Value)

	opts = Encode("x", schema, []Pair{{"n", "lots"}})
	assert.Equal(t, discordgo.ApplicationCommandOptionString, opts[0].Type)
	assert.Equal(t, "lots", opts[0].Value)

	for _, v := range []string{"1e30", "-1e30", "NaN", "Inf"} {
		opts = Encode("x", schema, []Pair{{"n", v}})
		assert.Equal(t, discordgo.ApplicationCommandOptionString, opts[0].Type, v)
		assert.Equal(t, v, opts[0].Value, v)
	}
}

func TestEncodeNumberFallback(t *testing.T) {
	schema := []*discordgo.ApplicationCommandOption{
		{Name: "n", Type: discordgo.ApplicationCommandOptionNumber},
	}
	opts := Encode("x", schema, []Pair{{"n", "abc"}})
	assert.Equal(t, discordgo.ApplicationCommandOptionString, opts[0].Type)
}

func TestEncodeBooleanFalseValues(t *testing.T) {
	schema := []*discordgo.ApplicationCommandOption{
		{Name: "b", Type: discordgo.ApplicationCommandOptionBoolean},
	}
	for _, v := range []string{"false", "0", "no", "maybe"} {
		opts := Encode("x", schema, []Pair{{"b", v}})
		assert.Equal(t, false, opts[0].Value, v)
	}
}

func TestEncodeChoices(t *testing.T) {
	schema := []*discordgo.ApplicationCommandOption{
		{
			Name: "size",
			Type: discordgo.ApplicationCommandOptionInteger,
			Choices: []*discordgo.ApplicationCommandOptionChoice{
				{Name: "Small", Value: float64(1)},
				{Name: "Large", Value: float64(3)},
			},
		},
		{
			Name: "color",
			Type: discordgo.ApplicationCommandOptionString,
			Choices: []*discordgo.ApplicationCommandOptionChoice{
				{Name: "Bright Red", Value: "red"},
			},
		},
	}

	opts := Encode("x", schema, Parse(`size=Large color="Bright Red"`))
	assert.Equal(t, int64(3), opts[0].Value)
	assert.Equal(t, "red", opts[1].Value)

	opts = Encode("x", schema, []Pair{{"size", "1"}, {"color", "red"}})
	assert.Equal(t, int64(1), opts[0].Value)
	assert.Equal(t, "red", opts[1].Value)
}

func TestEncodeParamAlias(t *testing.T) {
	schema := []*discordgo.ApplicationCommandOption{
		{Name: "question", Type: discordgo.ApplicationCommandOptionString},
	}
	opts := Encode("8ball", schema, Parse(`pregunta=will it rain?`))
	require.Len(t, opts, 1)
	assert.Equal(t, "question", opts[0].Name)
	assert.Equal(t, "will it rain?", opts[0].Value)

	opts = Encode("other", schema, []Pair{{"pregunta", "x"}})
	assert.Equal(t, "pregunta", opts[0].Name)
}
