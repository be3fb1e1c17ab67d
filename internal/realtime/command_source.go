package realtime

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// CommandSource captures audio through an external program (arecord,
// ffmpeg, sox) that writes raw little-endian float32 mono PCM to stdout.
// Placeholders {rate} and {frame} in the arguments expand to the sample
// rate and frame length.
type CommandSource struct {
	Command string
	Args    []string

	mu  sync.Mutex
	cmd *exec.Cmd
}

func (s *CommandSource) Open(ctx context.Context, sampleRate, frameLen int) (<-chan []float32, error) {
	if _, err := exec.LookPath(s.Command); err != nil {
		return nil, fmt.Errorf("audio capture command %q: %w", s.Command, err)
	}
	args := make([]string, 0, len(s.Args))
	for _, arg := range s.Args {
		arg = strings.ReplaceAll(arg, "{rate}", strconv.Itoa(sampleRate))
		arg = strings.ReplaceAll(arg, "{frame}", strconv.Itoa(frameLen))
		args = append(args, arg)
	}
	cmd := exec.CommandContext(ctx, s.Command, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting capture command: %w", err)
	}
	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	out := make(chan []float32, 8)
	go func() {
		defer close(out)
		defer func() { _ = cmd.Wait() }()
		raw := make([]byte, frameLen*4)
		for {
			if _, err := io.ReadFull(stdout, raw); err != nil {
				return
			}
			frame := make([]float32, frameLen)
			for i := range frame {
				bits := binary.LittleEndian.Uint32(raw[i*4:])
				frame[i] = math.Float32frombits(bits)
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *CommandSource) Close() error {
	s.mu.Lock()
	cmd := s.cmd
	s.cmd = nil
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		return cmd.Process.Kill()
	}
	return nil
}
