package alert

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"
)

// DefaultExchange and DefaultRoutingKey are used when none is configured.
const (
	DefaultExchange   = "sommelier.alerts"
	DefaultRoutingKey = "quality.failed"
)

// publisher is the subset of *amqp.Channel used to publish alerts.
type publisher interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type dialFunc func(url string) (publisher, func() error, error)

// AMQPNotifier publishes alerts as persistent JSON messages to a topic
// exchange. A connection is opened per alert.
type AMQPNotifier struct {
	url        string
	exchange   string
	routingKey string
	dial       dialFunc
}

// NewAMQPNotifier creates an AMQPNotifier.
func NewAMQPNotifier(url, exchange, routingKey string) *AMQPNotifier {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if routingKey == "" {
		routingKey = DefaultRoutingKey
	}
	return &AMQPNotifier{url: url, exchange: exchange, routingKey: routingKey, dial: dialAMQP}
}

func dialAMQP(url string) (publisher, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, conn.Close, nil
}

// Notify implements Notifier.
func (n *AMQPNotifier) Notify(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "alert: marshal alert")
	}

	ch, closeConn, err := n.dial(n.url)
	if err != nil {
		return eris.Wrap(err, "alert: amqp dial")
	}
	defer closeConn() //nolint:errcheck
	defer ch.Close()  //nolint:errcheck

	if err := ch.ExchangeDeclare(n.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return eris.Wrapf(err, "alert: declare exchange %s", n.exchange)
	}

	err = ch.PublishWithContext(ctx, n.exchange, n.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    a.Timestamp,
		Type:         a.Type,
		Body:         body,
	})
	if err != nil {
		return eris.Wrapf(err, "alert: publish to %s", n.exchange)
	}
	return nil
}
