// Package telemetry implements C9: the telemetry bridge task that
// receives framed Events from the orchestrator's outbound serial link,
// decodes them, and forwards them to an uplink (the uplink itself is out
// of scope — callers supply a Forward func). Per spec §4.9 the path is
// best-effort: a frame that fails to decode is logged and discarded,
// bounded by the next 0x00 delimiter, with no retransmission.
package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-longpoll"

	"github.com/hoshiguma/safetycore/internal/proto"
	"github.com/hoshiguma/safetycore/internal/rpcframe"
)

// FrameReader is the inbound half of the telemetry serial link.
type FrameReader interface {
	ReadFrame(ctx context.Context) ([]byte, error)
}

// decodeFailureCategory is the single catrate category used to rate-limit
// decode-failure logging; every malformed frame shares one bucket since
// spec §4.9 treats them uniformly (log and discard).
const decodeFailureCategory = "decode-failure"

// Bridge drains an inbound serial link, decodes Events, and forwards
// batches to an uplink.
type Bridge struct {
	reader       FrameReader
	forward      func(batch []proto.Event) error
	logDiscard   func(err error)
	decodeLimit  *catrate.Limiter
	batchConfig  *longpoll.ChannelConfig
	events       chan proto.Event
}

// Options configures a Bridge's batching and log rate limiting.
type Options struct {
	// BatchConfig controls how many decoded events Forward receives per
	// call; nil uses longpoll's documented defaults (min 4, max 16,
	// 50ms partial timeout).
	BatchConfig *longpoll.ChannelConfig

	// LogDiscard is invoked (rate-limited) whenever a frame fails to
	// decode. A nil func means failures are silently discarded.
	LogDiscard func(err error)
}

// New constructs a Bridge that reads frames from reader and forwards
// decoded batches via forward.
func New(reader FrameReader, forward func(batch []proto.Event) error, opts Options) *Bridge {
	return &Bridge{
		reader:      reader,
		forward:     forward,
		logDiscard:  opts.LogDiscard,
		batchConfig: opts.BatchConfig,
		decodeLimit: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 5,
			time.Minute: 60,
		}),
		events: make(chan proto.Event, 64),
	}
}

// Run drains the inbound link until ctx is cancelled. It spawns one
// goroutine reading and decoding frames, and itself loops calling
// longpoll.Channel to batch decoded events to Forward.
func (b *Bridge) Run(ctx context.Context) error {
	readErr := make(chan error, 1)
	go func() { readErr <- b.readLoop(ctx) }()

	for {
		batch, err := b.drainBatch(ctx)
		if err != nil {
			select {
			case rerr := <-readErr:
				if rerr != nil && !errors.Is(rerr, context.Canceled) {
					return rerr
				}
			default:
			}
			return err
		}
		if len(batch) > 0 {
			if err := b.forward(batch); err != nil {
				return err
			}
		}
	}
}

// drainBatch uses longpoll.Channel to collect as many decoded events as
// are available (bounded by Options.BatchConfig), blocking for at least
// one unless ctx is cancelled or the channel closes.
func (b *Bridge) drainBatch(ctx context.Context) ([]proto.Event, error) {
	var batch []proto.Event
	err := longpoll.Channel(ctx, b.batchConfig, b.events, func(ev proto.Event) error {
		batch = append(batch, ev)
		return nil
	})
	return batch, err
}

// readLoop reads frames from the serial link, decodes each as an Event,
// and pushes successes onto b.events. A decode failure is rate-limited
// logged and the frame discarded; the loop continues at the next frame.
func (b *Bridge) readLoop(ctx context.Context) error {
	defer close(b.events)
	for {
		frame, err := b.reader.ReadFrame(ctx)
		if err != nil {
			return err
		}

		ev, err := rpcframe.DecodeEvent(frame)
		if err != nil {
			if _, allowed := b.decodeLimit.Allow(decodeFailureCategory); allowed && b.logDiscard != nil {
				b.logDiscard(err)
			}
			continue
		}

		select {
		case b.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
