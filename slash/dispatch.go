package slash

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/anorb/cmdrunner/slashargs"
)

// Invoker runs a resolved command in-process through the host session.
type Invoker interface {
	Invoke(ctx context.Context, cmd *Command, payload *Interaction) error
}

// Poster sends a raw interaction and reports the HTTP status and body.
type Poster interface {
	PostInteraction(ctx context.Context, payload *Interaction) (status int, body []byte, err error)
}

// Request describes one slash command dispatch.
type Request struct {
	Target Target
	BotID  string
	Name   string
	Args   string
	// Scope and Exec are what earlier dispatches of the same job learned.
	Scope Scope
	Exec  ExecPath
}

// Result reports what a dispatch learned, even when it failed.
type Result struct {
	Command *Command
	Scope   Scope
	Exec    ExecPath
	Status  int
	Elapsed time.Duration
}

// Dispatcher resolves, builds and delivers slash command interactions.
type Dispatcher struct {
	Resolver *Resolver
	Invoker  Invoker
	Poster   Poster
	Log      zerolog.Logger
	Now      func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Dispatch delivers req. A nil error means Discord accepted the interaction
// for processing, not that the target bot answered.
//
// The returned errors are ErrCommandNotFound, ErrBotNotAvailable, an
// *ExecutionError, or a transport error.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	start := d.now()
	inv := ParseName(req.Name)
	log := d.Log.With().Str("command", inv.String()).Str("bot_id", req.BotID).Str("channel_id", req.Target.ChannelID).Logger()

	var res Result
	cmd, err := d.Resolver.Resolve(ctx, req.Target.ChannelID, req.BotID, inv.Command, req.Scope)
	if err != nil {
		log.Error().Err(err).Msg("slash command not found in server or global scope")
		return res, err
	}
	res.Command = cmd
	res.Scope = cmd.Scope
	log.Debug().Str("scope", string(cmd.Scope)).Dur("fetch", d.now().Sub(start)).Msg("resolved slash command")

	payload := BuildInteraction(cmd, inv, req.Target, slashargs.Parse(req.Args), d.now())

	// directFailed is set only when the direct path was tried and refused,
	// so an accepted post below is worth remembering.
	directFailed := false
	if inv.Subcommand == "" && req.Exec != ExecAPI && d.Invoker != nil {
		err := d.Invoker.Invoke(ctx, cmd, payload)
		switch {
		case err == nil:
			res.Exec = ExecDirect
			res.Elapsed = d.now().Sub(start)
			log.Info().Dur("elapsed", res.Elapsed).Msg("executed slash command directly")
			return res, nil
		case errors.Is(err, ErrNotInvokable):
			directFailed = true
			res.Exec = ExecAPI
			log.Debug().Msg("command is definition-only, using the interaction API from now on")
		case rejected(err):
			directFailed = true
			log.Warn().Err(err).Msg("direct execution rejected, falling back to the interaction API")
		default:
			// The interaction may already have gone out; posting it again
			// could run the command twice.
			res.Elapsed = d.now().Sub(start)
			log.Error().Err(err).Msg("direct execution failed")
			return res, errors.Wrap(err, "direct execution")
		}
	} else if req.Exec == ExecAPI {
		log.Debug().Msg("skipping direct execution for API-only command")
	}

	status, body, err := d.Poster.PostInteraction(ctx, payload)
	res.Status = status
	res.Elapsed = d.now().Sub(start)
	if err != nil {
		log.Error().Err(err).Msg("interaction request failed")
		return res, errors.Wrap(err, "post interaction")
	}
	if status == http.StatusNoContent {
		if directFailed {
			res.Exec = ExecAPI
		}
		log.Info().Dur("elapsed", res.Elapsed).Msg("interaction accepted")
		return res, nil
	}

	log.Error().Int("status", status).Bytes("body", body).Msg("interaction rejected")
	return res, classify(status, body)
}

// rejected reports whether err is a definite non-2xx answer from Discord,
// meaning the interaction was not accepted.
func rejected(err error) bool {
	var re *discordgo.RESTError
	if !errors.As(err, &re) || re.Response == nil {
		return false
	}
	return re.Response.StatusCode < 200 || re.Response.StatusCode > 299
}

// classify maps a non-204 interaction response onto the error taxonomy.
func classify(status int, body []byte) error {
	var apiErr discordgo.APIErrorMessage
	_ = json.Unmarshal(body, &apiErr)
	msg := strings.ToLower(apiErr.Message)
	if msg == "" {
		msg = strings.ToLower(string(body))
	}

	switch {
	case status == http.StatusNotFound && strings.Contains(msg, "not found"):
		return errors.WithDetail(errors.Wrapf(ErrCommandNotFound, "status %d", status), string(body))
	case status == http.StatusBadRequest && (apiErr.Code == unknownIntegrationCode || strings.Contains(msg, "unknown integration")):
		return errors.WithDetail(ErrBotNotAvailable, string(body))
	default:
		return &ExecutionError{Status: status, Body: body}
	}
}
