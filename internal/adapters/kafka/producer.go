package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"marketpulse/internal/metrics"
	"marketpulse/pkg/errors"
	"marketpulse/pkg/logger"
)

// MessageWriter is the subset of *kafka.Writer the producer uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// WriterFactory builds the writer for one topic
type WriterFactory func(topic string) MessageWriter

// Event encodings
const (
	EncodingJSON     = "json"
	EncodingProtobuf = "protobuf"

	contentTypeJSON     = "application/json"
	contentTypeProtobuf = "application/x-protobuf"
)

// Producer publishes events, one writer per topic
type Producer struct {
	mu           sync.Mutex
	writers      map[string]MessageWriter
	newWriter    WriterFactory
	encoding     string
	writeTimeout time.Duration
	log          *logger.Logger
}

// ProducerConfig holds producer configuration
type ProducerConfig struct {
	Brokers      []string
	Async        bool
	WriteTimeout time.Duration // default 5s
	// Encoding is EncodingJSON (default) or EncodingProtobuf
	Encoding string
	// NewWriter overrides writer construction
	NewWriter WriterFactory
}

func NewProducer(cfg ProducerConfig, log *logger.Logger) *Producer {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Encoding == "" {
		cfg.Encoding = EncodingJSON
	}

	p := &Producer{
		writers:      make(map[string]MessageWriter),
		newWriter:    cfg.NewWriter,
		encoding:     cfg.Encoding,
		writeTimeout: cfg.WriteTimeout,
		log:          log.With("component", "kafka_producer"),
	}

	if p.newWriter == nil {
		p.newWriter = func(topic string) MessageWriter {
			return &kafka.Writer{
				Addr:         kafka.TCP(cfg.Brokers...),
				Topic:        topic,
				Balancer:     &kafka.Hash{},
				Async:        cfg.Async,
				WriteTimeout: cfg.WriteTimeout,
				BatchTimeout: 50 * time.Millisecond,
				RequiredAcks: kafka.RequireOne,
				Completion: func(messages []kafka.Message, err error) {
					if !cfg.Async {
						return
					}
					for range messages {
						metrics.RecordKafkaMessage(topic, err)
					}
					if err != nil {
						p.log.Warnw("Async publish failed", "topic", topic, "messages", len(messages), "error", err)
					}
				},
			}
		}
	}

	return p
}

func (p *Producer) writer(topic string) MessageWriter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := p.newWriter(topic)
	p.writers[topic] = w
	return w
}

// Publish sends event to topic, keyed for per-symbol ordering
func (p *Producer) Publish(ctx context.Context, topic string, key string, event interface{}) error {
	data, contentType, err := p.encode(event)
	if err != nil {
		return errors.Wrapf(err, "marshal event for %s", topic)
	}

	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()

	err = p.writer(topic).WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: []kafka.Header{{Key: "content-type", Value: []byte(contentType)}},
		Time:    time.Now(),
	})
	metrics.RecordKafkaMessage(topic, err)
	if err != nil {
		p.log.Errorw("Failed to publish", "topic", topic, "key", key, "error", err)
		return errors.Wrapf(err, "publish to %s", topic)
	}

	p.log.Debugw("Published", "topic", topic, "key", key)
	return nil
}

// encode marshals event in the producer's encoding. With protobuf, a
// proto.Message is sent as is and any other event travels as a
// google.protobuf.Value built from its JSON form.
func (p *Producer) encode(event interface{}) ([]byte, string, error) {
	if p.encoding != EncodingProtobuf {
		data, err := json.Marshal(event)
		return data, contentTypeJSON, err
	}

	if msg, ok := event.(proto.Message); ok {
		data, err := proto.Marshal(msg)
		return data, contentTypeProtobuf, err
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return nil, "", err
	}
	var value structpb.Value
	if err := protojson.Unmarshal(raw, &value); err != nil {
		return nil, "", errors.Wrap(err, "convert event to protobuf value")
	}
	data, err := proto.Marshal(&value)
	return data, contentTypeProtobuf, err
}

// Close flushes and closes all writers
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs errors.MultiError
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			p.log.Errorw("Failed to close writer", "topic", topic, "error", err)
			errs.Add(errors.Wrapf(err, "close writer %s", topic))
		}
	}
	p.writers = make(map[string]MessageWriter)
	return errs.ToError()
}
