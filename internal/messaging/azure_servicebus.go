package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/shortage/config"
	"example.com/backstage/services/shortage/internal/telemetry"
)

// MessageProcessor handles one received message
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error
}

const (
	maxSubscriptionName = 50
	minSubscriptionIdle = 5 * time.Minute
)

// Client owns the service bus connection and the change-notification sender
type Client struct {
	client  *azservicebus.Client
	admin   *admin.Client
	sender  *azservicebus.Sender
	topic   string
	idle    time.Duration
	origin  string
	metrics *telemetry.Collector
}

// NewClient connects to the namespace and opens a sender on the changes topic. origin tags
// every notification so a process can ignore its own.
func NewClient(cfg config.AzureConfig, origin string) (*Client, error) {
	if cfg.ConnectionString == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	adminClient, err := admin.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		_ = client.Close(context.Background())
		return nil, errors.Wrap(err, "failed to create Service Bus admin client")
	}

	sender, err := client.NewSender(cfg.ChangesTopic, nil)
	if err != nil {
		_ = client.Close(context.Background())
		return nil, errors.Wrap(err, "failed to create Service Bus sender")
	}

	return &Client{
		client:  client,
		admin:   adminClient,
		sender:  sender,
		topic:   cfg.ChangesTopic,
		idle:    cfg.ChangesIdle,
		origin:  origin,
		metrics: telemetry.GetCollector(),
	}, nil
}

// Origin is the identifier stamped on notifications from this process
func (c *Client) Origin() string {
	return c.origin
}

// NotifyCaseChanged publishes a CaseChanged event for a committed write
func (c *Client) NotifyCaseChanged(ctx context.Context, caseID string, paths []string) error {
	start := time.Now()
	env, err := NewEnvelope(CaseChanged, CaseChangedEvent{
		CaseID: caseID,
		Paths:  paths,
		Origin: c.origin,
		At:     start.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message body")
	}

	err = c.sender.SendMessage(ctx, &azservicebus.Message{
		Body: data,
		ApplicationProperties: map[string]interface{}{
			"source": c.origin,
			"time":   start.UTC().Format(time.RFC3339),
		},
	}, nil)
	c.metrics.RecordMessageBusOperation(telemetry.MessageBusOperationSend, err == nil, time.Since(start))
	if err != nil {
		return errors.Wrap(err, "failed to send case changed notification")
	}
	return nil
}

// Consume receives from queueName in batches until ctx is done. Messages are completed on
// success, dead-lettered when the processor reports ErrPermanent and abandoned otherwise so
// they are redelivered. Processes consuming the same queue compete for its messages.
func (c *Client) Consume(ctx context.Context, queueName string, processor MessageProcessor) error {
	receiver, err := c.client.NewReceiverForQueue(queueName, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to create receiver for %s", queueName)
	}
	return c.receive(ctx, receiver, queueName, processor)
}

// ConsumeChanges receives every change notification on the topic through a subscription
// owned by this process. The subscription is removed on return and expires on its own when
// the process dies without removing it.
func (c *Client) ConsumeChanges(ctx context.Context, processor MessageProcessor) error {
	name := SubscriptionName(c.origin)
	idle := isoDuration(c.idle)
	_, err := c.admin.CreateSubscription(ctx, c.topic, name, &admin.CreateSubscriptionOptions{
		Properties: &admin.SubscriptionProperties{AutoDeleteOnIdle: &idle},
	})
	if err != nil {
		return errors.Wrapf(err, "failed to create subscription %s on %s", name, c.topic)
	}
	defer func() {
		if _, err := c.admin.DeleteSubscription(context.Background(), c.topic, name, nil); err != nil {
			log.Warn().Err(err).Str("subscription", name).Msg("Error deleting subscription")
		}
	}()

	receiver, err := c.client.NewReceiverForSubscription(c.topic, name, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to create receiver for %s/%s", c.topic, name)
	}
	return c.receive(ctx, receiver, c.topic+"/"+name, processor)
}

func (c *Client) receive(ctx context.Context, receiver *azservicebus.Receiver, entity string, processor MessageProcessor) error {
	defer func() {
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Str("entity", entity).Msg("Error closing receiver")
		}
	}()

	log.Info().Str("entity", entity).Msg("Starting consumer")

	for {
		messages, err := receiver.ReceiveMessages(ctx, 10, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var sbErr *azservicebus.Error
			if errors.As(err, &sbErr) && sbErr.Code == azservicebus.CodeTimeout {
				continue
			}
			return errors.Wrapf(err, "failed to receive from %s", entity)
		}

		for _, message := range messages {
			c.settle(ctx, receiver, processor, message)
		}
	}
}

func (c *Client) settle(ctx context.Context, receiver *azservicebus.Receiver, processor MessageProcessor, message *azservicebus.ReceivedMessage) {
	start := time.Now()
	c.metrics.RecordMessageBusOperation(telemetry.MessageBusOperationReceive, true, 0)

	err := processor.ProcessMessage(ctx, message)
	switch {
	case err == nil:
		if err := receiver.CompleteMessage(context.Background(), message, nil); err != nil {
			log.Error().Err(err).Str("message_id", message.MessageID).Msg("CompleteMessage failed")
		}
		c.metrics.RecordMessageBusOperation(telemetry.MessageBusOperationComplete, true, time.Since(start))
	case errors.Is(err, ErrPermanent):
		log.Warn().Err(err).Str("message_id", message.MessageID).Msg("Dead-lettering message")
		reason := "unprocessable"
		description := err.Error()
		if err := receiver.DeadLetterMessage(context.Background(), message, &azservicebus.DeadLetterOptions{
			Reason:           &reason,
			ErrorDescription: &description,
		}); err != nil {
			log.Error().Err(err).Str("message_id", message.MessageID).Msg("DeadLetterMessage failed")
		}
		c.metrics.RecordMessageBusOperation(telemetry.MessageBusOperationReject, false, time.Since(start))
	default:
		log.Error().Err(err).Str("message_id", message.MessageID).Msg("Error processing message")
		if err := receiver.AbandonMessage(context.Background(), message, nil); err != nil {
			log.Error().Err(err).Str("message_id", message.MessageID).Msg("AbandonMessage failed")
		}
		c.metrics.RecordMessageBusOperation(telemetry.MessageBusOperationReject, false, time.Since(start))
	}
}

// Close closes the sender and the client
func (c *Client) Close() error {
	if c.sender != nil {
		if err := c.sender.Close(context.Background()); err != nil {
			return err
		}
	}
	if c.client != nil {
		return c.client.Close(context.Background())
	}
	return nil
}

// SubscriptionName turns origin into a valid subscription name: letters, digits, '-', '.'
// and '_' only, at most 50 characters, keeping the unique tail of the origin
func SubscriptionName(origin string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.', r == '_':
			return r
		default:
			return '-'
		}
	}, origin)
	name = strings.Trim(name, "-._")
	if name == "" {
		name = "shortage"
	}
	if len(name) > maxSubscriptionName {
		name = strings.TrimLeft(name[len(name)-maxSubscriptionName:], "-._")
	}
	return name
}

// isoDuration renders d as the ISO 8601 duration the management API expects
func isoDuration(d time.Duration) string {
	if d < minSubscriptionIdle {
		d = minSubscriptionIdle
	}
	return fmt.Sprintf("PT%dS", int64(d/time.Second))
}
