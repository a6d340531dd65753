package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/meeting-copilot/internal/metrics"
	"github.com/snarg/meeting-copilot/internal/transcript"
)

// ErrSinkFull is returned by Offer when the consumer has fallen behind.
var ErrSinkFull = errors.New("transcript sink full")

// RawTranscript is one delivery from a transcription source, before
// normalization. Sources may omit the confidence and the timestamp.
type RawTranscript struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
	IsFinal    bool     `json:"is_final"`
	Timestamp  string   `json:"timestamp,omitempty"`
}

// Normalize converts the delivery into an Utterance. A missing or non-finite
// confidence becomes 0 and a missing timestamp becomes the current time.
func (r RawTranscript) Normalize() (transcript.Utterance, error) {
	u := transcript.Utterance{
		Text:     strings.TrimSpace(r.Text),
		Finality: transcript.Interim,
	}
	if r.IsFinal {
		u.Finality = transcript.Final
	}
	if r.Confidence != nil && !math.IsNaN(*r.Confidence) && !math.IsInf(*r.Confidence, 0) {
		u.Confidence = *r.Confidence
	}

	ts := strings.TrimSpace(r.Timestamp)
	if ts == "" {
		u.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	} else {
		if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
			return u, fmt.Errorf("timestamp %q: %w", ts, err)
		}
		u.Timestamp = ts
	}
	return u, u.Validate()
}

// Sink serializes deliveries from any number of producers into the
// transcript store. Producers call Offer; a single Run goroutine appends.
type Sink struct {
	store *transcript.Store
	ch    chan transcript.Utterance
	log   zerolog.Logger

	lastFinal transcript.Utterance // owned by Run

	accepted   atomic.Int64
	duplicates atomic.Int64
	rejected   atomic.Int64
}

// NewSink creates a sink with the given queue size.
func NewSink(store *transcript.Store, queueSize int, log zerolog.Logger) *Sink {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Sink{
		store: store,
		ch:    make(chan transcript.Utterance, queueSize),
		log:   log.With().Str("component", "sink").Logger(),
	}
}

// Offer normalizes raw and queues it without blocking.
func (s *Sink) Offer(raw RawTranscript) error {
	u, err := raw.Normalize()
	if err != nil {
		s.rejected.Add(1)
		return err
	}
	select {
	case s.ch <- u:
		return nil
	default:
		s.rejected.Add(1)
		return ErrSinkFull
	}
}

// HandleMessage decodes a JSON RawTranscript from an MQTT message and offers it.
func (s *Sink) HandleMessage(topic string, payload []byte) {
	metrics.MQTTMessagesTotal.Inc()

	var raw RawTranscript
	if err := json.Unmarshal(payload, &raw); err != nil {
		s.log.Warn().Err(err).Str("topic", topic).Msg("invalid transcript payload")
		return
	}
	if err := s.Offer(raw); err != nil {
		s.log.Warn().Err(err).Str("topic", topic).Msg("transcript delivery rejected")
	}
}

// Run appends queued utterances until ctx is cancelled, then drains what is
// already queued.
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case u := <-s.ch:
					s.append(u)
				default:
					s.log.Info().
						Int64("accepted", s.accepted.Load()).
						Int64("duplicates", s.duplicates.Load()).
						Int64("rejected", s.rejected.Load()).
						Msg("transcript sink stopped")
					return
				}
			}
		case u := <-s.ch:
			s.append(u)
		}
	}
}

func (s *Sink) append(u transcript.Utterance) {
	if u.IsFinal() && u.Timestamp == s.lastFinal.Timestamp && u.Text == s.lastFinal.Text {
		s.duplicates.Add(1)
		s.log.Debug().Str("utterance_ts", u.Timestamp).Msg("duplicate final delivery dropped")
		return
	}
	if err := s.store.Append(u); err != nil {
		s.rejected.Add(1)
		s.log.Warn().Err(err).Msg("transcript append failed")
		return
	}
	if u.IsFinal() {
		s.lastFinal = u
	}
	s.accepted.Add(1)
}
