package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rewired-gh/chodetect/internal/logger"
	"github.com/rewired-gh/chodetect/internal/models"
	"github.com/rewired-gh/chodetect/internal/monitor"
)

const maxLineSize = 1 << 20

type replayStats struct {
	Read    int
	Skipped int
	Emitted int
}

// replay feeds JSON-lines events from r through the monitor. Every emitted
// event is written to w as one JSON line when w is not nil. Malformed lines
// and rejected events are logged and skipped.
func replay(ctx context.Context, r io.Reader, w io.Writer, mon *monitor.Monitor) (replayStats, error) {
	var stats replayStats

	var enc *json.Encoder
	if w != nil {
		enc = json.NewEncoder(w)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		line++

		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		stats.Read++

		var ev models.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			logger.Warn("Skipping line %d: %v", line, err)
			stats.Skipped++
			continue
		}

		out, err := mon.Process(ctx, ev)
		if err != nil {
			logger.Warn("Skipping line %d: %v", line, err)
			stats.Skipped++
			continue
		}

		stats.Emitted += len(out)
		if enc == nil {
			continue
		}
		for _, e := range out {
			if err := enc.Encode(e); err != nil {
				return stats, fmt.Errorf("failed to write event: %w", err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("failed to read events: %w", err)
	}
	return stats, nil
}
