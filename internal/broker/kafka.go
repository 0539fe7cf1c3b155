package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"sampleflow/internal/config"
	"sampleflow/internal/constants"
	"sampleflow/internal/logger"
	"sampleflow/pkg/errors"
	"sampleflow/pkg/logging"
	"sampleflow/pkg/metrics"
)

type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		Async:        false,
	}
	return &KafkaProducer{writer: w, logger: log}
}

func (p *KafkaProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	err := p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic: topic,
			Key:   key,
			Value: value,
			Time:  time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// KafkaConsumer fetches messages one at a time and commits an offset only
// after the handler reports a terminal decision. Uncommitted offsets are
// redelivered by the group after a restart or rebalance, which is the
// at-least-once contract the pipeline builds on.
type KafkaConsumer struct {
	cfg         config.KafkaConfig
	wg          sync.WaitGroup
	reader      *kafka.Reader
	logger      logger.Logger
	serviceName string
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		cfg:         cfg,
		logger:      log,
		serviceName: "unknown",
	}
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
		"service_name", c.serviceName,
	)

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		consumeCtx := logging.WithServiceName(ctx, c.serviceName)
		c.logger.InfowCtx(consumeCtx, "Started consuming",
			"topic", topic,
		)

		for {
			m, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.InfowCtx(consumeCtx, "Stopped consuming",
						"topic", topic,
						"reason", "context canceled",
					)
					return
				}
				c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
					"error", err,
					"topic", topic,
				)
				time.Sleep(time.Second)
				continue
			}

			metrics.MessagesConsumedTotal.WithLabelValues(topic).Inc()

			d := Delivery{
				Topic:     m.Topic,
				Partition: m.Partition,
				Offset:    m.Offset,
				Key:       m.Key,
				Value:     m.Value,
				Time:      m.Time,
			}

			msgCtx := logging.WithTopic(consumeCtx, topic)

			// A handler error means no terminal decision was reached. The
			// delivery is retried in place: committing a later offset would
			// implicitly commit this one and lose the message.
			for {
				handlerErr := c.invoke(msgCtx, d, handler)
				if handlerErr == nil {
					break
				}
				c.logger.ErrorwCtx(msgCtx, "Processing failed, retrying delivery in place",
					"error", handlerErr,
					"partition", m.Partition,
					"offset", m.Offset,
				)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}

			if err := c.reader.CommitMessages(ctx, m); err != nil {
				c.logger.ErrorwCtx(msgCtx, "Failed to commit message",
					"error", err,
					"partition", m.Partition,
					"offset", m.Offset,
				)
			}
		}
	}()

	<-ctx.Done()
	return ctx.Err()
}

func (c *KafkaConsumer) invoke(ctx context.Context, d Delivery, handler HandlerFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
			c.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
				"error", err,
				"topic", d.Topic,
			)
		}
	}()
	return handler(ctx, d)
}

func (c *KafkaConsumer) Close() error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	c.wg.Wait()
	return err
}
