package transcript

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// EntrySeparator terminates every entry in the log.
const EntrySeparator = "\n\n"

// ErrMalformedHeader is returned when an entry's first line is not a valid header.
var ErrMalformedHeader = errors.New("malformed entry header")

// headerRe matches "<ts> [FINAL] (confidence: 95.00%)". Older writers wrapped
// the timestamp in brackets, so those are accepted too.
var headerRe = regexp.MustCompile(`^\[?([^\s\[\]]+)\]? \[(FINAL|INTERIM)\] \(confidence: (-?[0-9]+(?:\.[0-9]+)?)%\)$`)

// FormatHeader renders the header line of an entry.
func FormatHeader(u Utterance) string {
	return fmt.Sprintf("%s [%s] (confidence: %.2f%%)", u.Timestamp, u.Finality, u.Confidence*100)
}

// FormatEntry renders a full entry including the trailing separator.
func FormatEntry(u Utterance) string {
	return FormatHeader(u) + "\n" + u.Text + EntrySeparator
}

// SplitEntries splits freshly read bytes into entry blocks. Empty blocks are dropped.
func SplitEntries(data []byte) []string {
	parts := strings.Split(string(data), EntrySeparator)
	blocks := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		blocks = append(blocks, p)
	}
	return blocks
}

// ParseEntry parses one entry block. It returns (nil, nil) when the block has
// no text line, and ErrMalformedHeader when the header does not match.
func ParseEntry(block string) (*Utterance, error) {
	lines := nonEmptyLines(block)
	if len(lines) < 2 {
		return nil, nil
	}

	header := strings.TrimSpace(lines[0])
	m := headerRe.FindStringSubmatch(header)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformedHeader, truncate(header, 80))
	}

	pct, err := strconv.ParseFloat(m[3], 64)
	if err != nil || pct < 0 || pct > 100 {
		return nil, fmt.Errorf("%w: confidence %q", ErrMalformedHeader, m[3])
	}
	finality, _ := ParseFinality(m[2])

	text := strings.TrimSpace(strings.Join(lines[1:], "\n"))
	if text == "" {
		return nil, nil
	}

	return &Utterance{
		Timestamp:  m[1],
		Text:       text,
		Confidence: pct / 100,
		Finality:   finality,
	}, nil
}

// Skipped describes an entry the parser rejected.
type Skipped struct {
	Block string
	Err   error
}

// BatchResult holds the outcome of parsing one delta.
type BatchResult struct {
	Utterances []Utterance
	Skipped    []Skipped
}

// ParseBatch parses blocks concurrently. Entries share no state, so the order
// of completion does not matter; results keep the input order.
func ParseBatch(blocks []string) BatchResult {
	type slot struct {
		u   *Utterance
		err error
	}
	slots := make([]slot, len(blocks))

	var wg sync.WaitGroup
	for i, b := range blocks {
		wg.Add(1)
		go func(i int, b string) {
			defer wg.Done()
			u, err := ParseEntry(b)
			slots[i] = slot{u: u, err: err}
		}(i, b)
	}
	wg.Wait()

	var res BatchResult
	for i, s := range slots {
		switch {
		case s.err != nil:
			res.Skipped = append(res.Skipped, Skipped{Block: blocks[i], Err: s.err})
		case s.u != nil:
			res.Utterances = append(res.Utterances, *s.u)
		}
	}
	return res
}

func nonEmptyLines(block string) []string {
	raw := strings.Split(strings.ReplaceAll(block, "\r\n", "\n"), "\n")
	lines := raw[:0]
	for _, l := range raw {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
