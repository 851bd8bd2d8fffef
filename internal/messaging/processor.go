package messaging

import (
	"context"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/shortage/internal/domain"
	"example.com/backstage/services/shortage/internal/models"
	"example.com/backstage/services/shortage/internal/store"
)

// CommandHandler executes case commands and refreshes the local snapshot
type CommandHandler interface {
	CreateCase(ctx context.Context, cmd domain.CreateCaseCommand) (*models.ShortageCase, error)
	ChangeStatus(ctx context.Context, cmd domain.ChangeStatusCommand) (*models.ShortageCase, error)
	SetETA(ctx context.Context, cmd domain.SetETACommand) (*models.ShortageCase, error)
	AssignTeam(ctx context.Context, cmd domain.AssignTeamCommand) (*models.ShortageCase, error)
	SetSource(ctx context.Context, cmd domain.SetSourceCommand) (*models.ShortageCase, error)
	SetTransport(ctx context.Context, cmd domain.SetTransportCommand) (*models.ShortageCase, error)
	SetRootCause(ctx context.Context, cmd domain.SetRootCauseCommand) (*models.ShortageCase, error)
	DeleteRootCause(ctx context.Context, cmd domain.RootCauseCommand) (*models.ShortageCase, error)
	SetNotes(ctx context.Context, cmd domain.SetNotesCommand) (*models.ShortageCase, error)
	Refresh(ctx context.Context) error
}

// createNamespace scopes the case ids derived from message ids
var createNamespace = uuid.MustParse("5b0e61a4-8f0c-4c7e-9d59-3c1f0a4b2e71")

// Processor dispatches envelopes to the command handler
type Processor struct {
	handler CommandHandler
	origin  string
}

// NewProcessor creates a processor. Change notifications stamped with origin are ignored.
func NewProcessor(handler CommandHandler, origin string) *Processor {
	return &Processor{handler: handler, origin: origin}
}

// ProcessMessage implements MessageProcessor
func (p *Processor) ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	return p.HandleMessage(ctx, message.MessageID, message.Body)
}

// Handle decodes and dispatches one message body without a message id
func (p *Processor) Handle(ctx context.Context, body []byte) error {
	return p.HandleMessage(ctx, "", body)
}

// HandleMessage decodes and dispatches one message body. Malformed or rejected messages come
// back wrapped in ErrPermanent. Every command can be delivered more than once: a create
// without an id gets one derived from messageID, and a command whose effect is already in
// place succeeds.
func (p *Processor) HandleMessage(ctx context.Context, messageID string, body []byte) error {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return errors.Wrapf(ErrPermanent, "error unmarshalling message: %v", err)
	}

	log.Info().Str("eventType", env.EventType).Msg("Processing message")

	if env.EventType == CaseChanged {
		var ev CaseChangedEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return errors.Wrapf(ErrPermanent, "error unmarshalling %s: %v", env.EventType, err)
		}
		if ev.Origin != "" && ev.Origin == p.origin {
			return nil
		}
		return p.handler.Refresh(ctx)
	}

	var err error
	switch env.EventType {
	case CreateCase:
		var cmd domain.CreateCaseCommand
		if err = decode(env, &cmd); err == nil {
			if cmd.ID == "" && messageID != "" {
				cmd.ID = uuid.NewSHA1(createNamespace, []byte(messageID)).String()
			}
			_, err = p.handler.CreateCase(ctx, cmd)
		}
	case ChangeStatus:
		var cmd domain.ChangeStatusCommand
		if err = decode(env, &cmd); err == nil {
			_, err = p.handler.ChangeStatus(ctx, cmd)
		}
	case SetETA:
		var cmd domain.SetETACommand
		if err = decode(env, &cmd); err == nil {
			_, err = p.handler.SetETA(ctx, cmd)
		}
	case AssignTeam:
		var cmd domain.AssignTeamCommand
		if err = decode(env, &cmd); err == nil {
			_, err = p.handler.AssignTeam(ctx, cmd)
		}
	case SetSource:
		var cmd domain.SetSourceCommand
		if err = decode(env, &cmd); err == nil {
			_, err = p.handler.SetSource(ctx, cmd)
		}
	case SetTransport:
		var cmd domain.SetTransportCommand
		if err = decode(env, &cmd); err == nil {
			_, err = p.handler.SetTransport(ctx, cmd)
		}
	case SetRootCause:
		var cmd domain.SetRootCauseCommand
		if err = decode(env, &cmd); err == nil {
			_, err = p.handler.SetRootCause(ctx, cmd)
		}
	case DeleteRootCause:
		var cmd domain.RootCauseCommand
		if err = decode(env, &cmd); err == nil {
			_, err = p.handler.DeleteRootCause(ctx, cmd)
		}
	case SetNotes:
		var cmd domain.SetNotesCommand
		if err = decode(env, &cmd); err == nil {
			_, err = p.handler.SetNotes(ctx, cmd)
		}
	default:
		return errors.Wrapf(ErrPermanent, "unsupported event type: %s", env.EventType)
	}

	switch {
	case err == nil, errors.Is(err, ErrPermanent):
		return err
	case errors.Is(err, domain.ErrSameStatus), errors.Is(err, store.ErrExists):
		log.Info().Err(err).Str("eventType", env.EventType).Str("message_id", messageID).Msg("Command already applied")
		return nil
	case domain.IsInvalid(err), errors.Is(err, store.ErrNotFound):
		return errors.Wrapf(ErrPermanent, "%s rejected: %v", env.EventType, err)
	default:
		return err
	}
}

func decode(env Envelope, into interface{}) error {
	if err := json.Unmarshal(env.Data, into); err != nil {
		return errors.Wrapf(ErrPermanent, "error unmarshalling %s: %v", env.EventType, err)
	}
	return nil
}
