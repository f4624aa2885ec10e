package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// MatchNotifiedRecord is the audit entry written after every fully
// notified match.
type MatchNotifiedRecord struct {
	MatchID    string    `json:"matchId"`
	IPAddress  string    `json:"ipAddress"`
	Port       int       `json:"port"`
	Players    []string  `json:"players"`
	NotifiedAt time.Time `json:"notifiedAt"`
}

// Feed publishes match-notified records to a Kafka topic.
type Feed struct {
	writer *kafka.Writer
}

func NewFeed(brokers []string, topic string) *Feed {
	return &Feed{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			WriteTimeout: 10 * time.Second,
		},
	}
}

func (f *Feed) Publish(ctx context.Context, record MatchNotifiedRecord) error {
	value, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := f.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(record.MatchID),
		Value: value,
	}); err != nil {
		return err
	}
	log.Debug().Str("matchId", record.MatchID).Int("players", len(record.Players)).Msg("feed: match record published")
	return nil
}

func (f *Feed) Close() error {
	return f.writer.Close()
}
