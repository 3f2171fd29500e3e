// Package playback implements the inbound audio pipeline: a FIFO queue of
// base64-encoded chunks with lossy overflow trimming, strictly serialized
// rendering through a preference-ordered list of sinks, and a watchdog that
// recovers from stalled playback.
package playback

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/airdial/airdial/internal/config"
	"github.com/airdial/airdial/internal/observe"
)

// Pipeline queues and renders inbound audio chunks. Exactly one chunk is
// in flight at any moment: rendering is serialized to preserve audio order,
// never parallel. All methods are safe for concurrent use.
type Pipeline struct {
	sinks   []Sink // preference order; index 0 tried first
	log     *slog.Logger
	metrics *observe.Metrics
	now     func() time.Time

	mu         sync.Mutex
	cfg        config.AudioConfig
	queue      []string
	playing    bool
	lastPlayed time.Time

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a pipeline rendering through sinks in the given preference
// order. Call Start to launch the processing loop.
func New(cfg config.AudioConfig, sinks []Sink, log *slog.Logger, metrics *observe.Metrics, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:     cfg,
		sinks:   sinks,
		log:     log,
		metrics: metrics,
		now:     time.Now,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the processing loop and the stall watchdog.
func (p *Pipeline) Start() {
	p.wg.Add(2)
	go p.run()
	go p.watchdog()
}

// Close stops processing and releases all sinks. Queued chunks are
// discarded. Safe to call multiple times.
func (p *Pipeline) Close() error {
	p.stopOnce.Do(func() { close(p.done) })
	p.wg.Wait()

	for _, sink := range p.sinks {
		if err := sink.Close(); err != nil {
			p.log.Warn("sink close failed", "sink", sink.Name(), "error", err)
		}
	}
	return nil
}

// Retune replaces the audio tunables, typically after a config reload. The
// queue cap, trim target, and stall threshold apply immediately; the
// watchdog tick interval is read once at Start.
func (p *Pipeline) Retune(cfg config.AudioConfig) {
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	// A lowered queue cap may make the current queue oversized; the next
	// processing pass trims it.
	p.signal()
}

// SetFormat announces the encoding of subsequent chunks to all sinks.
func (p *Pipeline) SetFormat(format string) error {
	for _, sink := range p.sinks {
		if err := sink.SetFormat(format); err != nil {
			return err
		}
	}
	return nil
}

// SetOutputDevice routes rendering to the given output device on sinks
// that support routing.
func (p *Pipeline) SetOutputDevice(id string) {
	for _, sink := range p.sinks {
		if s, ok := sink.(interface{ SetOutputDevice(string) }); ok {
			s.SetOutputDevice(id)
		}
	}
}

// Enqueue appends one base64-encoded chunk to the queue.
func (p *Pipeline) Enqueue(payload string) {
	ctx := context.Background()

	p.mu.Lock()
	p.queue = append(p.queue, payload)
	p.mu.Unlock()

	p.metrics.ChunksEnqueued.Add(ctx, 1)
	p.metrics.QueueDepth.Add(ctx, 1)
	p.signal()
}

// Clear discards all queued chunks, e.g. on stream stop.
func (p *Pipeline) Clear() {
	p.mu.Lock()
	n := len(p.queue)
	p.queue = nil
	p.mu.Unlock()

	if n > 0 {
		p.metrics.QueueDepth.Add(context.Background(), int64(-n))
		p.log.Debug("playback queue cleared", "discarded", n)
	}
}

// QueueLen returns the number of chunks waiting to be rendered.
func (p *Pipeline) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pipeline) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// run drains the queue one chunk at a time until Close.
func (p *Pipeline) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}
		for p.processNext(context.Background()) {
			select {
			case <-p.done:
				return
			default:
			}
		}
	}
}

// processNext trims the queue if it overflowed, pops the head chunk, and
// renders it. Reports whether a chunk was taken.
//
// Trimming keeps only the most recent chunks: for real-time audio, recency
// beats completeness, so overflow sheds the oldest material.
func (p *Pipeline) processNext(ctx context.Context) bool {
	p.mu.Lock()
	if len(p.queue) > p.cfg.QueueLimit {
		dropped := len(p.queue) - p.cfg.QueueTrimTo
		p.queue = append([]string(nil), p.queue[dropped:]...)
		p.log.Warn("playback queue overflow, trimming to most recent",
			"dropped", dropped,
			"kept", p.cfg.QueueTrimTo,
		)
		p.metrics.ChunksTrimmed.Add(ctx, int64(dropped))
		p.metrics.QueueDepth.Add(ctx, int64(-dropped))
	}
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return false
	}
	payload := p.queue[0]
	p.queue = p.queue[1:]
	p.playing = true
	p.mu.Unlock()

	p.metrics.QueueDepth.Add(ctx, -1)

	start := p.now()
	if chunk, err := base64.StdEncoding.DecodeString(payload); err != nil {
		p.log.Warn("discarding undecodable chunk", "error", err)
	} else {
		p.render(ctx, chunk)
	}

	p.mu.Lock()
	p.playing = false
	p.lastPlayed = p.now()
	p.mu.Unlock()

	p.metrics.ChunkPlayDuration.Record(ctx, p.now().Sub(start).Seconds())
	return true
}

// render tries each sink in preference order. A chunk that every sink
// rejects is skipped; the queue never halts on playback errors.
func (p *Pipeline) render(ctx context.Context, chunk []byte) {
	var lastErr error
	for i, sink := range p.sinks {
		if i > 0 {
			p.metrics.SinkFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink.Name())))
			p.log.Debug("falling back to next sink", "sink", sink.Name(), "error", lastErr)
		}
		err := sink.Play(ctx, chunk)
		if err == nil {
			return
		}
		lastErr = err
	}
	p.log.Warn("all sinks rejected chunk, skipping", "size", len(chunk), "error", lastErr)
}

// watchdog periodically re-triggers processing when playback looks stalled:
// nothing in flight, chunks waiting, and too long since the last completed
// render. This compensates for lost wakeups.
func (p *Pipeline) watchdog() {
	defer p.wg.Done()
	p.mu.Lock()
	interval := p.cfg.WatchdogInterval()
	p.mu.Unlock()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		stalled := !p.playing && len(p.queue) > 0 && p.now().Sub(p.lastPlayed) > p.cfg.StallAfter()
		p.mu.Unlock()

		if stalled {
			p.metrics.PlaybackStalls.Add(context.Background(), 1)
			p.log.Warn("playback stalled, re-triggering queue", "queued", p.QueueLen())
			p.signal()
		}
	}
}
