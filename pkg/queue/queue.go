// Package queue adapts the AMQP broker for large-file jobs: one durable
// direct exchange and queue with priority support, dead-lettered into a DLQ.
package queue

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/telarch/telarch/internal/logger"
)

// DefaultPriority is used when a publish does not specify one.
const DefaultPriority uint8 = 4

// MaxPriority is the queue's x-max-priority; higher publishes are clamped.
const MaxPriority uint8 = 9

// Config describes the broker and topology names.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	VHost    string

	Exchange   string // E_jobs
	Queue      string // Q_jobs
	DLExchange string // E_dlx
	DLQueue    string // Q_dlq
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5672
	}
	if c.VHost == "" {
		c.VHost = "/"
	}
	if c.Exchange == "" {
		c.Exchange = "telarch.jobs"
	}
	if c.Queue == "" {
		c.Queue = "telarch.jobs.largefile"
	}
	if c.DLExchange == "" {
		c.DLExchange = "telarch.jobs.dlx"
	}
	if c.DLQueue == "" {
		c.DLQueue = "telarch.jobs.dlq"
	}
}

// URL renders the broker connection string.
func (c *Config) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", c.Username, c.Password, c.Host, c.Port, vhostPath(c.VHost))
}

func vhostPath(vhost string) string {
	if vhost == "/" {
		return "/"
	}
	return "/" + vhost
}

// QueueArgs returns the arguments Q_jobs must be declared with. Publisher and
// worker share this: the broker rejects a redeclaration with different
// arguments.
func (c *Config) QueueArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    c.DLExchange,
		"x-dead-letter-routing-key": c.DLQueue,
		"x-max-priority":            int32(MaxPriority),
	}
}

// Manager owns one broker connection and a serialized channel.
type Manager struct {
	cfg Config

	mu   sync.Mutex
	conn AMQPConnection
	ch   AMQPChannel
}

// NewManager connects to the broker and declares the topology.
func NewManager(cfg Config, dialer AMQPDialer) (*Manager, error) {
	cfg.ApplyDefaults()

	conn, err := dialer.Dial(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	m := &Manager{cfg: cfg, conn: conn, ch: ch}
	if err := DeclareTopology(ch, &cfg); err != nil {
		m.Close()
		return nil, err
	}
	logger.Info("Job queue ready", "queue", cfg.Queue, "exchange", cfg.Exchange)
	return m, nil
}

// DeclareTopology declares the exchange, queue, dead-letter exchange and
// dead-letter queue. Idempotent; both the publisher and the worker call it.
func DeclareTopology(ch AMQPChannel, cfg *Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.DLExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(cfg.DLQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue: %w", err)
	}
	if err := ch.QueueBind(cfg.DLQueue, cfg.DLQueue, cfg.DLExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue: %w", err)
	}

	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, cfg.QueueArgs()); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(cfg.Queue, cfg.Queue, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// Config returns a copy of the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// NewJobID returns a fresh random job id.
func NewJobID() string {
	return uuid.NewString()
}

// Publish validates and publishes one job with persistent delivery. Priority
// above MaxPriority is clamped.
func (m *Manager) Publish(msg *JobMessage, priority uint8) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if priority > MaxPriority {
		priority = MaxPriority
	}

	body, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode job payload: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	err = m.ch.Publish(m.cfg.Exchange, m.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         JobType,
		Priority:     priority,
		Headers:      amqp.Table{"schema": SchemaVersion},
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish job %s: %w", msg.JobID, err)
	}
	logger.Info("Job published", "job_id", msg.JobID, "priority", priority)
	return nil
}

// Depth returns the number of messages waiting in Q_jobs via a passive
// declare, leaving the queue untouched.
func (m *Manager) Depth() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, err := m.ch.QueueDeclarePassive(m.cfg.Queue, true, false, false, false, m.cfg.QueueArgs())
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}
	return q.Messages, nil
}

// Purge drains both the main queue and the dead-letter queue, returning the
// total number of messages removed.
func (m *Manager) Purge() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, name := range []string{m.cfg.Queue, m.cfg.DLQueue} {
		n, err := m.ch.QueuePurge(name, false)
		if err != nil {
			return total, fmt.Errorf("failed to purge %q: %w", name, err)
		}
		total += n
	}
	logger.Warn("Queues purged", "removed", total)
	return total, nil
}

// Close releases the channel and connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ch != nil {
		m.ch.Close()
		m.ch = nil
	}
	if m.conn != nil {
		err := m.conn.Close()
		m.conn = nil
		return err
	}
	return nil
}
