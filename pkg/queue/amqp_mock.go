package queue

import (
	"github.com/streadway/amqp"
)

// MockAMQPConnection is an in-memory AMQPConnection for tests.
type MockAMQPConnection struct {
	MockChannel AMQPChannel
	ChannelErr  error
	CloseErr    error

	ChannelCalled bool
	CloseCalled   bool
}

func (m *MockAMQPConnection) Channel() (AMQPChannel, error) {
	m.ChannelCalled = true
	if m.ChannelErr != nil {
		return nil, m.ChannelErr
	}
	return m.MockChannel, nil
}

func (m *MockAMQPConnection) Close() error {
	m.CloseCalled = true
	return m.CloseErr
}

// MockAMQPChannel records operations and simulates queue depth.
type MockAMQPChannel struct {
	PublishedMessages []amqp.Publishing
	PublishedKeys     []string

	// QueueMessages simulates per-queue message counts for passive
	// declares and purges.
	QueueMessages map[string]int

	// DeclaredQueues captures the arguments of each queue declaration.
	DeclaredQueues map[string]amqp.Table
	// DeclaredExchanges captures declared exchange kinds.
	DeclaredExchanges map[string]string
	// Bindings maps queue -> exchange.
	Bindings map[string]string

	// Deliveries feeds Consume.
	Deliveries chan amqp.Delivery

	ExchangeDeclareErr error
	QueueDeclareErr    error
	QueueBindErr       error
	PublishErr         error
	ConsumeErr         error
	QosErr             error
	CloseErr           error

	PrefetchCount int
	CloseCalled   bool
}

// NewMockAMQPChannel creates a channel ready for use.
func NewMockAMQPChannel() *MockAMQPChannel {
	return &MockAMQPChannel{
		QueueMessages:     make(map[string]int),
		DeclaredQueues:    make(map[string]amqp.Table),
		DeclaredExchanges: make(map[string]string),
		Bindings:          make(map[string]string),
		Deliveries:        make(chan amqp.Delivery, 16),
	}
}

func (m *MockAMQPChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	if m.ExchangeDeclareErr != nil {
		return m.ExchangeDeclareErr
	}
	m.DeclaredExchanges[name] = kind
	return nil
}

func (m *MockAMQPChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if m.QueueDeclareErr != nil {
		return amqp.Queue{}, m.QueueDeclareErr
	}
	m.DeclaredQueues[name] = args
	return amqp.Queue{Name: name, Messages: m.QueueMessages[name]}, nil
}

func (m *MockAMQPChannel) QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if m.QueueDeclareErr != nil {
		return amqp.Queue{}, m.QueueDeclareErr
	}
	return amqp.Queue{Name: name, Messages: m.QueueMessages[name]}, nil
}

func (m *MockAMQPChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	if m.QueueBindErr != nil {
		return m.QueueBindErr
	}
	m.Bindings[name] = exchange
	return nil
}

func (m *MockAMQPChannel) QueuePurge(name string, noWait bool) (int, error) {
	n := m.QueueMessages[name]
	m.QueueMessages[name] = 0
	return n, nil
}

func (m *MockAMQPChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.PublishedMessages = append(m.PublishedMessages, msg)
	m.PublishedKeys = append(m.PublishedKeys, key)
	m.QueueMessages[key]++
	return nil
}

func (m *MockAMQPChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if m.ConsumeErr != nil {
		return nil, m.ConsumeErr
	}
	return m.Deliveries, nil
}

func (m *MockAMQPChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	if m.QosErr != nil {
		return m.QosErr
	}
	m.PrefetchCount = prefetchCount
	return nil
}

func (m *MockAMQPChannel) Close() error {
	m.CloseCalled = true
	return m.CloseErr
}

// MockAMQPDialer returns a fixed connection.
type MockAMQPDialer struct {
	MockConnection AMQPConnection
	DialErr        error

	DialCalled bool
	LastURL    string
}

func (m *MockAMQPDialer) Dial(url string) (AMQPConnection, error) {
	m.DialCalled = true
	m.LastURL = url
	if m.DialErr != nil {
		return nil, m.DialErr
	}
	return m.MockConnection, nil
}

// SetupMockDialer wires a dialer, connection and channel for tests.
func SetupMockDialer() (*MockAMQPDialer, *MockAMQPChannel) {
	ch := NewMockAMQPChannel()
	conn := &MockAMQPConnection{MockChannel: ch}
	return &MockAMQPDialer{MockConnection: conn}, ch
}
