package transcript

import (
	"errors"
	"math"
	"testing"
)

func TestParseEntry(t *testing.T) {
	tests := []struct {
		name      string
		block     string
		wantNil   bool
		wantErr   bool
		wantText  string
		wantFinal Finality
		wantConf  float64
	}{
		{
			name:      "final_entry",
			block:     "2024-01-01T00:00:00Z [FINAL] (confidence: 95.00%)\nWhat is your view on distributed consensus?",
			wantText:  "What is your view on distributed consensus?",
			wantFinal: Final,
			wantConf:  0.95,
		},
		{
			name:      "interim_entry",
			block:     "2024-01-01T00:00:01Z [INTERIM] (confidence: 40.50%)\nwhat is",
			wantText:  "what is",
			wantFinal: Interim,
			wantConf:  0.405,
		},
		{
			name:      "bracketed_timestamp",
			block:     "[2024-01-01T00:00:00.123Z] [FINAL] (confidence: 0.00%)\nhi",
			wantText:  "hi",
			wantFinal: Final,
		},
		{
			name:      "multi_line_text_joined",
			block:     "2024-01-01T00:00:00Z [FINAL] (confidence: 80.00%)\n  line one \nline two  ",
			wantText:  "line one \nline two",
			wantFinal: Final,
			wantConf:  0.8,
		},
		{name: "header_only_returns_nil", block: "2024-01-01T00:00:00Z [FINAL] (confidence: 80.00%)", wantNil: true},
		{name: "empty_block_returns_nil", block: "", wantNil: true},
		{name: "bad_tag", block: "2024-01-01T00:00:00Z [MAYBE] (confidence: 80.00%)\ntext", wantErr: true},
		{name: "missing_percent", block: "2024-01-01T00:00:00Z [FINAL] (confidence: 80.00)\ntext", wantErr: true},
		{name: "confidence_over_100", block: "2024-01-01T00:00:00Z [FINAL] (confidence: 180.00%)\ntext", wantErr: true},
		{name: "garbage_header", block: "not a header\ntext", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := ParseEntry(tt.block)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedHeader) {
					t.Fatalf("err = %v, want ErrMalformedHeader", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantNil {
				if u != nil {
					t.Fatalf("got %+v, want nil", u)
				}
				return
			}
			if u == nil {
				t.Fatal("got nil utterance")
			}
			if u.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", u.Text, tt.wantText)
			}
			if u.Finality != tt.wantFinal {
				t.Errorf("Finality = %v, want %v", u.Finality, tt.wantFinal)
			}
			if math.Abs(u.Confidence-tt.wantConf) > 1e-9 {
				t.Errorf("Confidence = %v, want %v", u.Confidence, tt.wantConf)
			}
		})
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	cases := []Utterance{
		{Timestamp: "2024-01-01T00:00:00Z", Text: "plain", Confidence: 0.95, Finality: Final},
		{Timestamp: "2024-05-06T07:08:09.123456789Z", Text: "two\nlines", Confidence: 0.12345, Finality: Interim},
		{Timestamp: "2024-01-01T00:00:00+02:00", Text: "zero confidence", Confidence: 0, Finality: Final},
		{Timestamp: "2024-01-01T00:00:00Z", Text: "full", Confidence: 1, Finality: Final},
	}
	for _, want := range cases {
		blocks := SplitEntries([]byte(FormatEntry(want)))
		if len(blocks) != 1 {
			t.Fatalf("%q: got %d blocks", want.Text, len(blocks))
		}
		got, err := ParseEntry(blocks[0])
		if err != nil || got == nil {
			t.Fatalf("%q: ParseEntry = %v, %v", want.Text, got, err)
		}
		if got.Timestamp != want.Timestamp || got.Text != want.Text || got.Finality != want.Finality {
			t.Errorf("round trip = %+v, want %+v", *got, want)
		}
		// Header keeps two decimals of the percentage.
		if math.Abs(got.Confidence-want.Confidence) > 0.0001 {
			t.Errorf("Confidence = %v, want %v", got.Confidence, want.Confidence)
		}
	}
}

func TestParseBatchSkipsMalformed(t *testing.T) {
	data := []byte(
		"2024-01-01T00:00:00Z [FINAL] (confidence: 90.00%)\nfirst good\n\n" +
			"garbage header line\nsome text\n\n" +
			"2024-01-01T00:00:02Z [INTERIM] (confidence: 50.00%)\nsecond good\n\n")

	res := ParseBatch(SplitEntries(data))
	if len(res.Utterances) != 2 {
		t.Fatalf("parsed %d utterances, want 2", len(res.Utterances))
	}
	if len(res.Skipped) != 1 {
		t.Fatalf("skipped %d entries, want 1", len(res.Skipped))
	}
	if res.Utterances[0].Text != "first good" || res.Utterances[1].Text != "second good" {
		t.Errorf("utterances = %+v", res.Utterances)
	}
	if !errors.Is(res.Skipped[0].Err, ErrMalformedHeader) {
		t.Errorf("skip err = %v, want ErrMalformedHeader", res.Skipped[0].Err)
	}
}

func TestSplitEntries(t *testing.T) {
	got := SplitEntries([]byte("a\nb\n\n\n\nc\nd\n\n  \n\n"))
	if len(got) != 2 {
		t.Fatalf("got %d blocks (%q), want 2", len(got), got)
	}
}
