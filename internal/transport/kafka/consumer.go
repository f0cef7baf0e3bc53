// Package kafka consumes telemetry from a broker topic and feeds it into
// the same ingestion pipeline the HTTP layer uses. Enabled only when
// brokers are configured.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"fleettrack/internal/config"
	"fleettrack/internal/ingest"
)

// message is the wire shape on the telemetry topic: one report plus the
// producing organization. Brokers are trusted infrastructure, so the org
// id rides in the payload instead of an API key.
type message struct {
	OrgID  int64         `json:"org_id"`
	Report ingest.Report `json:"report"`
}

type Consumer struct {
	reader *kafka.Reader
	svc    *ingest.Service
	log    *logrus.Logger
}

func NewConsumer(cfg *config.Config, svc *ingest.Service, log *logrus.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        1 * time.Second,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: 1 * time.Second,
		CommitInterval: time.Second,
	})

	return &Consumer{reader: reader, svc: svc, log: log}
}

// Run consumes until the context is canceled. Malformed payloads and
// rejected points are logged and skipped; only broker-level failures end
// the loop.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.WithFields(logrus.Fields{
		"topic": c.reader.Config().Topic,
		"group": c.reader.Config().GroupID,
	}).Info("kafka consumer started")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		c.handle(ctx, msg.Value)
	}
}

// handle decodes and ingests one message payload. Malformed payloads and
// rejected points are logged and skipped, never retried.
func (c *Consumer) handle(ctx context.Context, value []byte) {
	var m message
	if err := json.Unmarshal(value, &m); err != nil {
		c.log.WithError(err).Warn("skipping undecodable telemetry message")
		return
	}

	if _, err := c.svc.Ingest(ctx, m.OrgID, m.Report); err != nil {
		c.log.WithError(err).WithField("vehicle", m.Report.VehicleExternalID).
			Warn("kafka ingestion failed")
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
