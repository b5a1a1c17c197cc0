package publisher

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"dhcpmapper"
	"dhcpmapper/router"
)

// Default AMQP port.
const DefaultPort = 5672

// Application identifier attached to the published messages.
const appID = "dhcp-static-mapper"

// RabbitMQ connection and routing settings.
type Settings struct {
	Host        string
	Port        string
	User        string
	Password    string
	VirtualHost string
	Exchange    string
	Queue       string
}

// Checks if the settings are complete and well-formed.
func (s Settings) Validate() error {
	if !govalidator.IsHost(s.Host) {
		return errors.Errorf("invalid RabbitMQ host: '%s'", s.Host)
	}
	if s.Port != "" && !govalidator.IsPort(s.Port) {
		return errors.Errorf("invalid RabbitMQ port: '%s'", s.Port)
	}
	if s.User == "" {
		return errors.New("RabbitMQ user is not set")
	}
	if s.Exchange == "" {
		return errors.New("RabbitMQ exchange is not set")
	}
	if s.Queue == "" {
		return errors.New("RabbitMQ queue is not set")
	}
	return nil
}

// Returns the AMQP URI built from the settings.
func (s Settings) URI() string {
	port := DefaultPort
	if p, err := strconv.Atoi(s.Port); err == nil {
		port = p
	}
	vhost := s.VirtualHost
	if vhost == "" {
		vhost = "/"
	}
	return amqp.URI{
		Scheme:   "amqp",
		Host:     s.Host,
		Port:     port,
		Username: s.User,
		Password: s.Password,
		Vhost:    vhost,
	}.String()
}

// Single entry of the published static mapping table.
type Message struct {
	InterfaceName string `json:"interface_name"`
	IPv4          string `json:"ipv4"`
	Hostname      string `json:"hostname"`
}

// Converts the static mappings into the published entries. The mapping
// description is published as the interface name.
func NewMessages(mappings []router.StaticMapping) []Message {
	messages := make([]Message, 0, len(mappings))
	for _, mapping := range mappings {
		messages = append(messages, Message{
			InterfaceName: mapping.Description,
			IPv4:          mapping.IPAddress,
			Hostname:      mapping.Hostname,
		})
	}
	return messages
}

// Subset of the AMQP channel used by the publisher.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Opens the channel to the broker. The returned closer closes the
// underlying connection.
type Dialer func(settings Settings) (Channel, io.Closer, error)

// Connects to the broker over AMQP.
func dialAMQP(settings Settings) (Channel, io.Closer, error) {
	connection, err := amqp.Dial(settings.URI())
	if err != nil {
		return nil, nil, errors.Wrapf(err, "cannot connect to RabbitMQ at %s", settings.Host)
	}
	channel, err := connection.Channel()
	if err != nil {
		_ = connection.Close()
		return nil, nil, errors.Wrap(err, "cannot open the RabbitMQ channel")
	}
	return channel, connection, nil
}

// Publishes the static mapping table to the RabbitMQ exchange. The
// connection is established lazily and re-established on the next
// publish after a failure. It is safe for concurrent use.
type Publisher struct {
	settings Settings
	ttl      time.Duration
	dial     Dialer

	mutex   sync.Mutex
	channel Channel
	closer  io.Closer
}

// Creates the publisher. The messages expire after twice the sync
// interval so that the consumers never see a table older than the next
// one.
func NewPublisher(settings Settings, syncInterval time.Duration) *Publisher {
	return newPublisher(settings, syncInterval, dialAMQP)
}

func newPublisher(settings Settings, syncInterval time.Duration, dial Dialer) *Publisher {
	return &Publisher{
		settings: settings,
		ttl:      2 * syncInterval,
		dial:     dial,
	}
}

// Returns the message time-to-live in milliseconds as expected by the
// AMQP expiration property.
func (p *Publisher) expiration() string {
	return strconv.FormatInt(p.ttl.Milliseconds(), 10)
}

// Connects to the broker and declares the exchange, queue and binding.
func (p *Publisher) Connect() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.connect()
}

func (p *Publisher) connect() error {
	if p.channel != nil {
		return nil
	}

	channel, closer, err := p.dial(p.settings)
	if err != nil {
		return err
	}

	err = channel.ExchangeDeclare(p.settings.Exchange, amqp.ExchangeDirect, true, false, false, false, nil)
	if err == nil {
		_, err = channel.QueueDeclare(p.settings.Queue, true, false, false, false, nil)
	}
	if err == nil {
		err = channel.QueueBind(p.settings.Queue, "", p.settings.Exchange, false, nil)
	}
	if err != nil {
		_ = channel.Close()
		if closer != nil {
			_ = closer.Close()
		}
		return errors.Wrapf(err, "cannot declare the RabbitMQ exchange '%s' and queue '%s'",
			p.settings.Exchange, p.settings.Queue)
	}

	p.channel = channel
	p.closer = closer
	log.WithFields(log.Fields{
		"host":     p.settings.Host,
		"exchange": p.settings.Exchange,
		"queue":    p.settings.Queue,
	}).Info("Connected to RabbitMQ")
	return nil
}

// Drops the current channel and connection.
func (p *Publisher) disconnect() error {
	var err error
	if p.channel != nil {
		err = p.channel.Close()
	}
	if p.closer != nil {
		if closeErr := p.closer.Close(); err == nil {
			err = closeErr
		}
	}
	p.channel = nil
	p.closer = nil
	return err
}

// Publishes the static mapping table as a JSON array.
func (p *Publisher) Publish(ctx context.Context, mappings []router.StaticMapping) error {
	body, err := json.Marshal(NewMessages(mappings))
	if err != nil {
		return errors.Wrap(err, "cannot serialize the static mapping table")
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if err = p.connect(); err != nil {
		return err
	}

	err = p.channel.PublishWithContext(ctx, p.settings.Exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Expiration:   p.expiration(),
		MessageId:    uuid.NewString(),
		Timestamp:    dhcpmapper.UTCNow(),
		AppId:        appID,
		Body:         body,
	})
	if err != nil {
		if closeErr := p.disconnect(); closeErr != nil {
			log.WithError(closeErr).Debug("Problem closing the RabbitMQ connection")
		}
		return errors.Wrapf(err, "cannot publish to the RabbitMQ exchange '%s'", p.settings.Exchange)
	}

	log.WithField("entries", len(mappings)).Debug("Published the static mapping table")
	return nil
}

// Closes the connection to the broker.
func (p *Publisher) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.disconnect()
}
