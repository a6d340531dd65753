package transcript

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Finality tags whether the recognizer may still revise an utterance.
type Finality int

const (
	Interim Finality = iota
	Final
)

func (f Finality) String() string {
	switch f {
	case Interim:
		return "INTERIM"
	case Final:
		return "FINAL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(f))
	}
}

// ParseFinality maps a log tag back to a Finality.
func ParseFinality(tag string) (Finality, bool) {
	switch tag {
	case "FINAL":
		return Final, true
	case "INTERIM":
		return Interim, true
	}
	return Interim, false
}

// ErrEmptyText is returned for utterances whose text is empty or whitespace.
var ErrEmptyText = errors.New("utterance text is empty")

// Utterance is one unit of recognized speech.
type Utterance struct {
	Timestamp  string // ISO-8601
	Text       string
	Confidence float64 // 0..1, 0 when the recognizer did not report one
	Finality   Finality
}

// New builds a timestamped utterance. The text is trimmed.
func New(text string, confidence float64, finality Finality) (Utterance, error) {
	u := Utterance{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Text:       strings.TrimSpace(text),
		Confidence: confidence,
		Finality:   finality,
	}
	return u, u.Validate()
}

// Validate rejects whitespace-only text and out of range confidence.
func (u Utterance) Validate() error {
	if strings.TrimSpace(u.Text) == "" {
		return ErrEmptyText
	}
	if u.Confidence < 0 || u.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range [0,1]", u.Confidence)
	}
	if strings.TrimSpace(u.Timestamp) == "" || strings.ContainsAny(u.Timestamp, " \n") {
		return fmt.Errorf("invalid timestamp %q", u.Timestamp)
	}
	return nil
}

// IsFinal reports whether the utterance is a FINAL result.
func (u Utterance) IsFinal() bool { return u.Finality == Final }
