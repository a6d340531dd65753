package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// FilePlaceholder in a player command is replaced with the path of a
// temporary file holding the audio. Without it, audio is piped on stdin.
const FilePlaceholder = "{file}"

// CommandSink plays audio by running an external player command.
type CommandSink struct {
	name string
	args []string
}

// NewCommandSink parses a whitespace-separated command line such as
// "mpg123 -q -" or "ffplay -nodisp -autoexit {file}".
func NewCommandSink(command string) (*CommandSink, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("player command is empty")
	}
	return &CommandSink{name: fields[0], args: fields[1:]}, nil
}

// Check reports whether the player binary is in PATH.
func (s *CommandSink) Check() error {
	if _, err := exec.LookPath(s.name); err != nil {
		return fmt.Errorf("player %q not found: %w", s.name, err)
	}
	return nil
}

// Play runs the player and waits for it to exit.
func (s *CommandSink) Play(ctx context.Context, audio []byte) error {
	args := make([]string, len(s.args))
	copy(args, s.args)

	useFile := false
	for _, a := range args {
		if a == FilePlaceholder {
			useFile = true
			break
		}
	}

	var stdin *bytes.Reader
	if useFile {
		tmp, err := os.CreateTemp("", "copilot-speech-*.mp3")
		if err != nil {
			return fmt.Errorf("create temp audio: %w", err)
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.Write(audio); err != nil {
			tmp.Close()
			return fmt.Errorf("write temp audio: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("close temp audio: %w", err)
		}
		for i, a := range args {
			if a == FilePlaceholder {
				args[i] = tmp.Name()
			}
		}
	} else {
		stdin = bytes.NewReader(audio)
	}

	cmd := exec.CommandContext(ctx, s.name, args...)
	if stdin != nil {
		cmd.Stdin = stdin
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", s.name, err, msg)
		}
		return fmt.Errorf("%s: %w", s.name, err)
	}
	return nil
}
