package mailer

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultQueueName = "account-emails"

// Mailer that publishes messages to a rabbitmq queue
// The queue is durable and messages are persistent: a broker restart must not
// lose a confirmation email the user is waiting for
type AMQPMailer struct {
	conn  *amqp.Connection
	chn   *amqp.Channel
	queue string
}

func NewAMQPMailer(url string, queue string) (*AMQPMailer, error) {
	if queue == "" {
		queue = defaultQueueName
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("cant connect to rabbitmq. Err: %w", err)
	}

	chn, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("cant open rabbitmq channel. Err: %w", err)
	}

	_, err = chn.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		chn.Close()
		conn.Close()
		return nil, fmt.Errorf("cant declare queue %q. Err: %w", queue, err)
	}

	return &AMQPMailer{
		conn:  conn,
		chn:   chn,
		queue: queue,
	}, nil
}

func (m *AMQPMailer) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("cant marshal mail message. Err: %w", err)
	}

	err = m.chn.PublishWithContext(
		ctx,
		"",      // exchange
		m.queue, // routing key (queue name)
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("cant publish mail message. Err: %w", err)
	}

	return nil
}

func (m *AMQPMailer) Close() error {
	if err := m.chn.Close(); err != nil {
		return err
	}
	return m.conn.Close()
}
