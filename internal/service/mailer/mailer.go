// Package mailer hands account emails to the delivery pipeline. Nothing here
// renders or sends mail itself: messages are enqueued for a separate worker,
// so a slow or dead mail provider never blocks an account operation.
package mailer

import (
	"context"

	"github.com/pkosilov/accounts/internal/logger"
)

// Message to be delivered to the user
// Token is the single use action token the mail template must embed, Origin
// is the caller origin the link in the mail is built from
type Message struct {
	Kind      string `json:"kind"`
	Recipient string `json:"recipient"`
	Token     string `json:"token"`
	Origin    string `json:"origin,omitempty"`
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Mailer that only logs messages
// Used in development and as a fallback when no queue is configured
type LogMailer struct {
	L logger.Logger
}

func (m LogMailer) Send(ctx context.Context, msg Message) error {
	m.L.Info("mail message dropped to log",
		"kind", msg.Kind,
		"recipient", msg.Recipient,
	)
	return nil
}
