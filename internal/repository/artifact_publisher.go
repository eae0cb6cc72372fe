package repository

import (
	"context"

	"SignalFusion/internal/domain/models"
	drepo "SignalFusion/internal/domain/repository"
)

// Artifact types carried in the envelope.
const (
	ArtifactForecast = "forecast"
	ArtifactScore    = "score"
	ArtifactRisk     = "risk"
)

// Envelope wraps every published artifact.
type Envelope struct {
	Type    string      `json:"type"`
	PassID  string      `json:"pass_id"`
	Symbol  string      `json:"symbol"`
	Payload interface{} `json:"payload"`
}

// Producer is satisfied by *kafka.Producer.
type Producer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaArtifactPublisher writes envelopes keyed by symbol so one symbol's
// artifacts stay ordered on a partition.
type KafkaArtifactPublisher struct {
	producer Producer
	topic    string
	metrics  drepo.Metrics
}

var _ drepo.ArtifactPublisher = (*KafkaArtifactPublisher)(nil)

func NewKafkaArtifactPublisher(p Producer, topic string, metrics drepo.Metrics) *KafkaArtifactPublisher {
	return &KafkaArtifactPublisher{producer: p, topic: topic, metrics: metrics}
}

func (p *KafkaArtifactPublisher) publish(ctx context.Context, typ, passID, symbol string, payload interface{}) error {
	err := p.producer.Publish(ctx, p.topic, []byte(symbol), Envelope{Type: typ, PassID: passID, Symbol: symbol, Payload: payload})
	if err == nil && p.metrics != nil {
		p.metrics.RecordPublished(typ)
	}
	return err
}

func (p *KafkaArtifactPublisher) PublishForecast(ctx context.Context, passID string, f models.EnsembleForecast) error {
	return p.publish(ctx, ArtifactForecast, passID, f.Symbol, f)
}

func (p *KafkaArtifactPublisher) PublishScore(ctx context.Context, passID string, s models.CompositeScore) error {
	return p.publish(ctx, ArtifactScore, passID, s.Symbol, s)
}

func (p *KafkaArtifactPublisher) PublishRisk(ctx context.Context, passID, symbol string, r models.RiskReport) error {
	return p.publish(ctx, ArtifactRisk, passID, symbol, r)
}

func (p *KafkaArtifactPublisher) Close() error { return p.producer.Close() }

// NopArtifactPublisher drops artifacts when Kafka is disabled.
type NopArtifactPublisher struct{}

var _ drepo.ArtifactPublisher = NopArtifactPublisher{}

func (NopArtifactPublisher) PublishForecast(context.Context, string, models.EnsembleForecast) error {
	return nil
}
func (NopArtifactPublisher) PublishScore(context.Context, string, models.CompositeScore) error {
	return nil
}
func (NopArtifactPublisher) PublishRisk(context.Context, string, string, models.RiskReport) error {
	return nil
}
func (NopArtifactPublisher) Close() error { return nil }
