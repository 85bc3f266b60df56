package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"trustlines-relay/internal/events"
)

// messenger is the part of *messaging.Client the backend uses.
type messenger interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SendDryRun(ctx context.Context, message *messaging.Message) (string, error)
}

// FirebaseBackend sends event notifications through Firebase Cloud Messaging.
type FirebaseBackend struct {
	client messenger
	logger *zap.Logger
}

// NewFirebaseBackend authenticates with the service account file at credentialsPath.
func NewFirebaseBackend(ctx context.Context, credentialsPath string, logger *zap.Logger) (*FirebaseBackend, error) {
	if credentialsPath == "" {
		return nil, fmt.Errorf("firebase credentials path is required")
	}
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return newBackend(client, logger), nil
}

func newBackend(client messenger, logger *zap.Logger) *FirebaseBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FirebaseBackend{client: client, logger: logger}
}

// ValidateToken sends a dry-run message. Tokens the service reports as
// unregistered or malformed are invalid; other failures are returned.
func (b *FirebaseBackend) ValidateToken(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	_, err := b.client.SendDryRun(ctx, &messaging.Message{Token: token})
	switch {
	case err == nil:
		return true, nil
	case isInvalidToken(err):
		return false, nil
	default:
		return false, err
	}
}

// Send delivers ev as a data message.
func (b *FirebaseBackend) Send(ctx context.Context, token string, ev events.Event) error {
	id, err := b.client.Send(ctx, Message(token, ev))
	if err != nil {
		if isInvalidToken(err) {
			b.logger.Info("push token no longer registered", zap.String("type", ev.Type))
		}
		return fmt.Errorf("send push message: %w", err)
	}
	b.logger.Debug("push message sent", zap.String("id", id), zap.String("type", ev.Type))
	return nil
}

// Message builds the data message for an event. Data values must be strings.
func Message(token string, ev events.Event) *messaging.Message {
	fields := ev.Fields()
	data := map[string]string{
		"eventType": ev.Type,
	}
	for _, key := range []string{"networkAddress", "contractAddress", "from", "to", "user", "blockNumber", "logIndex", "timestamp", "transactionHash"} {
		if v, ok := fields[key]; ok {
			data[key] = v
		}
	}
	return &messaging.Message{
		Token: token,
		Data:  data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
}

func isInvalidToken(err error) bool {
	return messaging.IsUnregistered(err) || errorutils.IsInvalidArgument(err)
}
