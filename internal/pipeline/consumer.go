package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"event-pipeline/internal/cdc"
	"event-pipeline/internal/client"
	"event-pipeline/internal/config"
	"event-pipeline/internal/enrichment"
	"event-pipeline/internal/metrics"
	"event-pipeline/internal/model"
	"event-pipeline/internal/taxonomy"
	"event-pipeline/internal/util"
)

// SourceBinding ties one inbound topic to its decode format and routing.
// Internal bindings feed the read-model sync instead of the tool pipeline.
type SourceBinding struct {
	Topic     string
	Format    model.SourceFormat
	Tool      model.ToolType
	Internal  bool
	extractor cdc.FieldExtractor
}

// Bindings derives the source bindings from configuration.
func Bindings(cfg *config.Config) ([]SourceBinding, error) {
	bindings := []SourceBinding{
		{Topic: cfg.Kafka.ConsoleTopic, Format: model.SourceMongoDB, Tool: model.ToolConsole},
		{Topic: cfg.Kafka.RMMTopic, Format: model.SourceMySQL, Tool: model.ToolRMM},
		{Topic: cfg.Kafka.MDMTopic, Format: model.SourcePostgres, Tool: model.ToolMDM},
		{Topic: cfg.Kafka.EntitiesTopic, Format: model.SourcePostgres, Internal: true},
	}

	for i := range bindings {
		if bindings[i].Internal {
			continue
		}
		ex, err := cdc.ExtractorForTool(bindings[i].Tool)
		if err != nil {
			return nil, err
		}
		bindings[i].extractor = ex
	}
	return bindings, nil
}

// Processor runs one CDC message through decode, extraction, taxonomy,
// enrichment, assembly and dispatch.
type Processor struct {
	registry  *taxonomy.Registry
	resolver  *enrichment.Resolver
	dispatch  *Dispatcher
	readModel *ReadModelSync
}

func NewProcessor(registry *taxonomy.Registry, resolver *enrichment.Resolver, dispatcher *Dispatcher, readModel *ReadModelSync) *Processor {
	return &Processor{
		registry:  registry,
		resolver:  resolver,
		dispatch:  dispatcher,
		readModel: readModel,
	}
}

// Process handles one raw message. A nil return means the message is done
// (processed or deliberately dropped) and its offset may be committed; a
// non-nil return is always a delivery failure that warrants redelivery.
func (p *Processor) Process(ctx context.Context, binding SourceBinding, value []byte) error {
	start := time.Now()
	defer func() {
		metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	env, err := cdc.DecodeEnvelope(value, binding.Format)
	if err != nil {
		// Redelivery would reproduce the same bytes, so corrupt messages
		// are dropped, not retried.
		util.Error("Dropping malformed envelope",
			zap.String("topic", binding.Topic),
			zap.Error(err))
		metrics.EventsDropped.WithLabelValues(binding.Topic, "malformed").Inc()
		return nil
	}

	if env.Operation == model.OpNoop {
		metrics.EventsDropped.WithLabelValues(binding.Topic, "noop").Inc()
		return nil
	}

	if binding.Internal {
		if err := p.readModel.Handle(ctx, env); err != nil {
			return err
		}
		metrics.EventsProcessed.WithLabelValues(binding.Topic).Inc()
		return nil
	}

	fields := cdc.Extract(binding.extractor, env.After)

	unified := p.registry.Resolve(binding.Tool, fields.NativeEventType)
	if unified.Name == taxonomy.Unknown.Name {
		metrics.UnmappedEventTypes.WithLabelValues(string(binding.Tool)).Inc()
	}

	// Device and user resolution are independent lookups.
	var deviceID, userID string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		deviceID, _ = p.resolver.ResolveDeviceID(gctx, binding.Tool, fields.AgentOrHostID)
		return nil
	})
	g.Go(func() error {
		userID, _ = p.resolver.ResolveUserID(gctx, fields.ActorUsername)
		return nil
	})
	_ = g.Wait()

	if deviceID == "" {
		metrics.EnrichmentMisses.WithLabelValues("device").Inc()
	}
	if userID == "" {
		metrics.EnrichmentMisses.WithLabelValues("user").Inc()
	}

	ev := AssembleEvent(fields, binding.Tool, unified, deviceID, userID, env.SourceTimestamp)

	if err := p.dispatch.Dispatch(ctx, env.Operation, ev); err != nil {
		return err
	}

	metrics.EventsProcessed.WithLabelValues(binding.Topic).Inc()
	return nil
}

// Consumer owns the worker pool: a set of consumer-group readers per inbound
// topic, each processing its assigned partitions strictly in order.
type Consumer struct {
	cfg       *config.Config
	processor *Processor
}

func NewConsumer(cfg *config.Config, processor *Processor) *Consumer {
	return &Consumer{cfg: cfg, processor: processor}
}

// Run blocks until the context is cancelled. Readers in the same consumer
// group split the topic partitions among themselves, so ordering is
// per-partition only.
func (c *Consumer) Run(ctx context.Context) error {
	bindings, err := Bindings(c.cfg)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, binding := range bindings {
		for i := 0; i < c.cfg.Pipeline.WorkersPerSource; i++ {
			consumer, err := client.NewKafkaConsumer(c.cfg, binding.Topic, c.cfg.Kafka.GroupID)
			if err != nil {
				return err
			}

			binding := binding
			g.Go(func() error {
				defer consumer.Close()
				return c.runWorker(ctx, consumer, binding)
			})
		}
	}

	return g.Wait()
}

func (c *Consumer) runWorker(ctx context.Context, consumer *client.KafkaConsumer, binding SourceBinding) error {
	for {
		msg, err := consumer.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			util.Error("Failed to fetch message, backing off",
				zap.String("topic", binding.Topic),
				zap.Error(err))
			select {
			case <-time.After(c.cfg.Pipeline.RetryBackoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		if err := c.handleWithRetry(ctx, binding, msg); err != nil {
			// Cancelled mid-retry. The offset stays uncommitted so the
			// message is redelivered after restart.
			return nil
		}

		if err := consumer.CommitMessage(ctx, msg); err != nil {
			// The message was fully dispatched; after a restart it is
			// redelivered and the sinks absorb the duplicate.
			util.Error("Failed to commit offset",
				zap.String("topic", binding.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}
}

// handleWithRetry processes one message, retrying in place with exponential
// backoff while the broker sink reports delivery failures. The offset is not
// committed until the message succeeds, so the partition stalls rather than
// skipping an event. A non-nil return means the context was cancelled before
// the message was delivered; the caller must not commit its offset.
func (c *Consumer) handleWithRetry(ctx context.Context, binding SourceBinding, msg kafka.Message) error {
	backoff := c.cfg.Pipeline.RetryBackoff

	for {
		err := c.processor.Process(ctx, binding, msg.Value)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrSinkDelivery) {
			util.Error("Unexpected processing failure, dropping message",
				zap.String("topic", binding.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			metrics.EventsDropped.WithLabelValues(binding.Topic, "processing_error").Inc()
			return nil
		}

		metrics.SinkDeliveryRetries.Inc()
		util.Warn("Delivery failure, retrying message",
			zap.String("topic", binding.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
		if backoff > c.cfg.Pipeline.MaxRetryBackoff {
			backoff = c.cfg.Pipeline.MaxRetryBackoff
		}
	}
}
