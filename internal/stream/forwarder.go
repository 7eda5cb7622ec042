package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heyconcierge/relay/internal/upstream"
)

// clientEvent is the wire shape of one relayed SSE data payload.
type clientEvent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ForwardParams wires one relay pass: an open upstream stream on one side,
// the client's response writer on the other, with the sanitizer and
// accumulator in between.
type ForwardParams struct {
	Stream      upstream.Stream
	Writer      http.ResponseWriter
	Fence       *Fence
	Accumulator *Accumulator
	KeepAlive   time.Duration
}

// ForwardResult reports what one relay pass observed.
type ForwardResult struct {
	HandoffHint bool
	Units       int
	Err         error // transport failure; everything else is absorbed
}

type recvResult struct {
	unit *upstream.Unit
	err  error
}

// Forward relays the upstream stream to the client until the turn completes,
// the transport fails, or ctx is cancelled. Display text is passed through
// the fence sanitizer before each write; the raw text lands in the
// accumulator untouched. When KeepAlive is positive, a keep-alive comment
// goes out whenever the upstream stays silent for a full interval. The
// terminal [DONE] marker is written exactly once, on every exit path.
func Forward(ctx context.Context, p ForwardParams) ForwardResult {
	var res ForwardResult

	flusher, _ := p.Writer.(http.Flusher)

	doneSent := false
	writeDone := func() {
		if doneSent {
			return
		}
		doneSent = true
		fmt.Fprint(p.Writer, "data: [DONE]\n\n")
		if flusher != nil {
			flusher.Flush()
		}
	}
	defer writeDone()

	writeEvent := func(ev clientEvent) {
		buf, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Fprintf(p.Writer, "data: %s\n\n", buf)
		if flusher != nil {
			flusher.Flush()
		}
	}

	emitDelta := func(raw string) {
		p.Accumulator.Append(raw)
		if cleaned := p.Fence.Feed(raw); cleaned != "" {
			writeEvent(clientEvent{Type: "delta", Text: cleaned})
		}
	}

	// Recv blocks, so a pump goroutine feeds the select loop. Closing the
	// stream unblocks Recv and lets the pump drain out on every exit path.
	units := make(chan recvResult)
	go func() {
		defer close(units)
		for {
			u, err := p.Stream.Recv()
			select {
			case units <- recvResult{unit: u, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	defer p.Stream.Close()

	// A non-positive interval disables keep-alive; the nil channel never
	// fires in the select below.
	var ticker *time.Ticker
	var tick <-chan time.Time
	if p.KeepAlive > 0 {
		ticker = time.NewTicker(p.KeepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	finish := func() {
		if rest := p.Fence.Flush(); rest != "" {
			writeEvent(clientEvent{Type: "delta", Text: rest})
		}
		writeDone()
	}

	for {
		if err := ctx.Err(); err != nil {
			res.Err = err
			writeDone()
			return res
		}
		select {
		case <-ctx.Done():
			// Client went away or the request deadline hit. The write side
			// is best effort from here.
			res.Err = ctx.Err()
			writeDone()
			return res

		case <-tick:
			fmt.Fprint(p.Writer, ": ping\n\n")
			if flusher != nil {
				flusher.Flush()
			}

		case rr, ok := <-units:
			if !ok {
				finish()
				return res
			}
			if rr.err != nil {
				if rr.err == io.EOF {
					finish()
					return res
				}
				log.Warn().Err(rr.err).Msg("upstream_stream_failed")
				res.Err = rr.err
				writeEvent(clientEvent{Type: "error", Text: "stream interrupted"})
				writeDone()
				return res
			}
			if rr.unit == nil {
				continue
			}
			res.Units++
			if rr.unit.HandoffHint {
				res.HandoffHint = true
			}
			for _, frag := range rr.unit.Fragments {
				emitDelta(frag)
			}
			if rr.unit.Done {
				finish()
				return res
			}
			if ticker != nil {
				ticker.Reset(p.KeepAlive)
			}
		}
	}
}
