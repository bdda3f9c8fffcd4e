package stream

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/claudeswitch/claudeswitch/internal/canonical"
)

// Result summarizes a completed (or truncated) stream.
type Result struct {
	Usage  canonical.Usage
	Stop   canonical.StopReason
	Events int
}

// Pipe drives one provider stream end to end: it scans SSE lines from r,
// feeds each data payload to the normalizer, re-encodes the canonical events
// through enc, and writes the home-protocol bytes to w, flushing after every
// chunk.
//
// Cancellation is cooperative: once ctx fires, no further canonical events
// are produced and any open tool-call accumulator is discarded rather than
// flushed. A cancelled stream is truncated output, not a message to
// finalize, so Finish is skipped on that path.
func Pipe(ctx context.Context, r io.Reader, n Normalizer, enc *Encoder, w io.Writer, logger *slog.Logger) (Result, error) {
	res := Result{Stop: canonical.StopUndefined}
	var outputText strings.Builder

	flush := func() {
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}

	emit := func(events []canonical.Event) {
		for _, ev := range events {
			res.Events++
			switch ev.Kind {
			case canonical.EventTextDelta:
				outputText.WriteString(ev.Text)
			case canonical.EventUsageUpdate:
				res.Usage = mergeUsage(res.Usage, ev.Usage)
			case canonical.EventStopReason:
				res.Stop = ev.Stop
			}
			if b := enc.Encode(ev); len(b) > 0 {
				w.Write(b)
			}
		}
		flush()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		events, err := n.Feed([]byte(payload))
		if err != nil {
			logger.Warn("dropping malformed stream chunk", "error", err)
			continue
		}
		emit(events)
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, err
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}

	emit(n.Flush())

	// Usage fallback: the provider reported nothing but text was produced.
	if res.Usage.IsZero() && outputText.Len() > 0 {
		emit([]canonical.Event{canonical.UsageUpdate(EstimateUsage(outputText.String()))})
	}

	if b := enc.Finish(); len(b) > 0 {
		w.Write(b)
		flush()
	}

	return res, nil
}

func mergeUsage(current, update canonical.Usage) canonical.Usage {
	if update.InputTokens > 0 {
		current.InputTokens = update.InputTokens
	}
	if update.OutputTokens > 0 {
		current.OutputTokens = update.OutputTokens
	}
	current.Estimated = current.Estimated || update.Estimated
	return current
}
