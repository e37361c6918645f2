package ingest

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/segmentio/kafka-go"

	"github.com/andrewwormald/durable"
	"github.com/andrewwormald/durable/reportgen"
)

// dataFileEvent is the storage change announcement published when a new data
// file lands. Only the locator matters to the pipeline.
type dataFileEvent struct {
	Source string `json:"source"`
}

// Listener consumes data file announcements and starts one batch instance per
// message. The instance id is derived from the message's topic partition and
// offset so a reconsumed message re-attaches to its existing instance instead
// of starting a second batch.
type Listener struct {
	engine *durable.Engine
	reader *kafka.Reader
	logger durable.Logger
}

// NewListener builds a listener consuming topic from brokers as consumer
// group, group.
func NewListener(engine *durable.Engine, logger durable.Logger, brokers []string, topic, group string) *Listener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  group,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10 << 20,
	})

	return &Listener{
		engine: engine,
		reader: reader,
		logger: logger,
	}
}

// Run consumes until ctx is cancelled. Messages are committed only after the
// batch instance exists, so a crash between start and commit results in a
// reconsume that re-attaches rather than a lost batch.
func (l *Listener) Run(ctx context.Context) error {
	defer l.reader.Close()

	for ctx.Err() == nil {
		msg, err := l.reader.FetchMessage(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		} else if err != nil {
			l.logger.Error(ctx, errors.Wrap(err, "fetch data file message"))
			time.Sleep(time.Second)
			continue
		}

		err = l.handle(ctx, msg)
		if err != nil {
			l.logger.Error(ctx, err)
			time.Sleep(time.Second)
			continue
		}

		err = l.reader.CommitMessages(ctx, msg)
		if err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Error(ctx, errors.Wrap(err, "commit data file message"))
		}
	}

	return ctx.Err()
}

func (l *Listener) handle(ctx context.Context, msg kafka.Message) error {
	var ev dataFileEvent
	err := json.Unmarshal(msg.Value, &ev)
	if err != nil {
		return errors.Wrap(err, "decode data file message", j.MKV{
			"topic":  msg.Topic,
			"offset": strconv.FormatInt(msg.Offset, 10),
		})
	}
	if ev.Source == "" {
		return errors.New("data file message missing source", j.KV("topic", msg.Topic))
	}

	id := instanceIDFor(msg)
	_, err = l.engine.Start(ctx, reportgen.OrchestrationProcessBatch,
		durable.WithInstanceID(id),
		durable.WithInput(ev.Source))
	if errors.Is(err, durable.ErrInstanceInProgress) {
		// NoReturnErr: Reconsumed message, the batch already exists.
		l.logger.Debug(ctx, "data file message already ingested", durable.MKV{
			"instance_id": id,
			"source":      ev.Source,
		})
	} else if err != nil {
		return errors.Wrap(err, "start batch from data file message",
			j.KV("source", ev.Source))
	}

	return nil
}

func instanceIDFor(msg kafka.Message) string {
	return "kafka-" + msg.Topic + "-" +
		strconv.Itoa(msg.Partition) + "-" + strconv.FormatInt(msg.Offset, 10)
}
