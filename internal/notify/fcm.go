package notify

import (
	"context"
	"fmt"
	"log"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// TokenSource resolves an employee to their registered device token.
// The remote client satisfies this.
type TokenSource interface {
	DeviceToken(ctx context.Context, tenantID, employeeID string) (string, error)
}

// FCM delivers notifications through Firebase Cloud Messaging.
type FCM struct {
	client *messaging.Client
	tokens TokenSource
	logger *log.Logger
}

// NewFCM initializes a Firebase app from a service-account credentials
// file and returns an FCM notifier.
func NewFCM(ctx context.Context, credentialsFile string, tokens TokenSource, logger *log.Logger) (*FCM, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[notify] ", log.LstdFlags)
	}

	opt := option.WithCredentialsFile(credentialsFile)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize messaging client: %w", err)
	}

	return &FCM{client: client, tokens: tokens, logger: logger}, nil
}

// Notify sends n to the employee's registered device. An employee with
// no registered device is silently skipped: not everyone carries the
// mobile app.
func (f *FCM) Notify(ctx context.Context, tenantID, employeeID string, n Notification) error {
	token, err := f.tokens.DeviceToken(ctx, tenantID, employeeID)
	if err != nil {
		return fmt.Errorf("failed to look up device token for %s: %w", employeeID, err)
	}
	if token == "" {
		return nil
	}

	msg := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: n.Data,
	}

	id, err := f.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send notification to %s: %w", employeeID, err)
	}
	f.logger.Printf("sent %s to %s (message %s)", n.Data["type"], employeeID, id)
	return nil
}
