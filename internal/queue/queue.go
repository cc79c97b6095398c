package queue

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	DriverKafka = "kafka"
	DriverStdio = "stdio"
)

const envKafkaTLS = "RELAYER_KAFKA_TLS"

var ErrInvalidConfig = errors.New("queue: invalid config")

// Producer publishes relay events. key partitions related records together; drivers without partitions
// ignore it.
type Producer interface {
	Publish(ctx context.Context, topic string, key, payload []byte) error
	Close() error
}

type ProducerConfig struct {
	Driver string

	Brokers      []string
	BatchTimeout time.Duration
	// TLS forces TLS on the broker connection. RELAYER_KAFKA_TLS=true has the same effect.
	TLS bool

	Writer io.Writer
}

func NewProducer(cfg ProducerConfig) (Producer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverKafka:
		p, err := newKafkaProducer(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	case DriverStdio:
		return newStdioProducer(cfg.Writer), nil
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

// SplitCommaList splits a flag value like "b1:9092, b2:9092" and drops empty entries.
func SplitCommaList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func kafkaTLSFromEnv() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(envKafkaTLS))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

type kafkaProducer struct {
	writer *kafka.Writer
}

func newKafkaProducer(cfg ProducerConfig) (*kafkaProducer, error) {
	brokers := SplitCommaList(strings.Join(cfg.Brokers, ","))
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka producer requires at least one broker", ErrInvalidConfig)
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	if cfg.TLS || kafkaTLSFromEnv() {
		w.Transport = &kafka.Transport{
			TLS: &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}
	return &kafkaProducer{writer: w}, nil
}

func (p *kafkaProducer) Publish(ctx context.Context, topic string, key, payload []byte) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidConfig)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: key, Value: payload})
}

func (p *kafkaProducer) Close() error {
	return p.writer.Close()
}

// stdioProducer writes one payload per line. Topic and key are not written.
type stdioProducer struct {
	mu sync.Mutex
	w  io.Writer
}

func newStdioProducer(w io.Writer) *stdioProducer {
	if w == nil {
		w = os.Stdout
	}
	return &stdioProducer{w: w}
}

func (p *stdioProducer) Publish(_ context.Context, topic string, _ []byte, payload []byte) error {
	if strings.TrimSpace(topic) == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidConfig)
	}
	line := make([]byte, 0, len(payload)+1)
	line = append(line, payload...)
	line = append(line, '\n')

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.w.Write(line)
	return err
}

func (p *stdioProducer) Close() error { return nil }
