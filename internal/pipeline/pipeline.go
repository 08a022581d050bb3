// Package pipeline coordinates the per-envelope processing sequence:
// parse -> transcode -> detect -> forward. A single coordinator goroutine
// owns message receipt; a bounded pool of workers runs the stages so one
// slow envelope never stalls ingestion.
package pipeline

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/platewatch-systems/platewatch-relay/internal/config"
	"github.com/platewatch-systems/platewatch-relay/internal/dedup"
	"github.com/platewatch-systems/platewatch-relay/internal/detect"
	"github.com/platewatch-systems/platewatch-relay/internal/dlq"
	"github.com/platewatch-systems/platewatch-relay/internal/forward"
	"github.com/platewatch-systems/platewatch-relay/internal/imaging"
	"github.com/platewatch-systems/platewatch-relay/internal/logging"
	"github.com/platewatch-systems/platewatch-relay/internal/media"
	"github.com/platewatch-systems/platewatch-relay/internal/metrics"
	"github.com/platewatch-systems/platewatch-relay/internal/models"
	"github.com/platewatch-systems/platewatch-relay/internal/snapshot"
)

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Received        int64     `json:"received"`
	ParseDropped    int64     `json:"parse_dropped"`
	Duplicates      int64     `json:"duplicates"`
	DecodeDropped   int64     `json:"decode_dropped"`
	Detected        int64     `json:"detected"`
	DetectionNone   int64     `json:"detection_none"`
	DetectionFailed int64     `json:"detection_failed"`
	Forwarded       int64     `json:"forwarded"`
	ForwardFailed   int64     `json:"forward_failed"`
	LastEvent       time.Time `json:"last_event"`
}

// Pipeline wires the stages together and enforces the in-flight limit.
type Pipeline struct {
	cfg config.PipelineConfig

	detector  detect.Detector
	forwarder forward.Forwarder
	fetcher   *snapshot.Fetcher
	archive   *media.Store
	dedup     dedup.Suppressor
	dlqWriter dlq.Writer

	queue chan *models.Envelope

	statsMu sync.RWMutex
	stats   Stats
}

// Option configures optional pipeline collaborators.
type Option func(*Pipeline)

// WithSnapshotFetcher enables fetching referenced snapshots over HTTP.
func WithSnapshotFetcher(f *snapshot.Fetcher) Option {
	return func(p *Pipeline) { p.fetcher = f }
}

// WithMediaStore enables archiving converted snapshots to disk.
func WithMediaStore(s *media.Store) Option {
	return func(p *Pipeline) { p.archive = s }
}

// WithDLQ enables dead-lettering terminally failed envelopes.
func WithDLQ(w dlq.Writer) Option {
	return func(p *Pipeline) { p.dlqWriter = w }
}

// WithDedup enables duplicate suppression of broker redeliveries.
func WithDedup(s dedup.Suppressor) Option {
	return func(p *Pipeline) { p.dedup = s }
}

// New constructs a Pipeline.
func New(cfg config.PipelineConfig, detector detect.Detector, forwarder forward.Forwarder, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		detector:  detector,
		forwarder: forwarder,
		dedup:     dedup.NoOpSuppressor{},
		queue:     make(chan *models.Envelope, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	metrics.QueueDepth.Set(0)
	return p
}

// Run consumes raw messages until ctx is cancelled, then drains in-flight
// envelopes within the shutdown grace period. Blocks until all workers have
// stopped.
func (p *Pipeline) Run(ctx context.Context, messages <-chan models.RawMessage) {
	// Workers get their own context so in-flight envelopes survive the
	// shutdown signal until the grace period runs out.
	workCtx, workCancel := context.WithCancel(context.Background())
	defer workCancel()

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(workCtx)
		}()
	}

	slog.Info("pipeline started",
		slog.Int("workers", p.cfg.Workers),
		slog.Int("queue_size", p.cfg.QueueSize),
	)

receive:
	for {
		select {
		case <-ctx.Done():
			break receive

		case raw, ok := <-messages:
			if !ok {
				break receive
			}
			p.dispatch(ctx, raw)
		}
	}

	// Stop accepting; let workers finish what is queued.
	close(p.queue)
	slog.Info("pipeline draining", slog.Duration("grace", p.cfg.ShutdownGrace))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("pipeline drained")
	case <-time.After(p.cfg.ShutdownGrace):
		slog.Warn("shutdown grace expired, cancelling in-flight envelopes")
		workCancel()
		<-done
	}
}

// dispatch parses and enqueues one raw message. Enqueueing blocks when the
// queue is full: receipt stalls rather than dropping silently.
func (p *Pipeline) dispatch(ctx context.Context, raw models.RawMessage) {
	p.mutateStats(func(s *Stats) {
		s.Received++
		s.LastEvent = time.Now()
	})

	env, err := models.ParseEnvelope(raw)
	if err != nil {
		metrics.ParseErrors.Inc()
		p.mutateStats(func(s *Stats) { s.ParseDropped++ })
		slog.Warn("dropping malformed event",
			logging.Topic(raw.Topic),
			logging.Error(err),
		)
		return
	}

	seen, err := p.dedup.Seen(ctx, env.DedupKey())
	if err != nil {
		// Dedup is advisory; a failed check never drops an event.
		slog.Warn("dedup check failed",
			logging.CameraID(env.CameraID),
			logging.EventID(env.EventID),
			logging.Error(err),
		)
	} else if seen {
		metrics.DuplicatesSkipped.Inc()
		p.mutateStats(func(s *Stats) { s.Duplicates++ })
		slog.Debug("skipping redelivered event",
			logging.CameraID(env.CameraID),
			logging.EventID(env.EventID),
		)
		return
	}

	select {
	case p.queue <- env:
		metrics.QueueDepth.Set(float64(len(p.queue)))
	case <-ctx.Done():
	}
}

func (p *Pipeline) worker(ctx context.Context) {
	for env := range p.queue {
		metrics.QueueDepth.Set(float64(len(p.queue)))
		metrics.EnvelopesInFlight.Inc()
		p.process(ctx, env)
		metrics.EnvelopesInFlight.Dec()
	}
}

// process runs one envelope through transcode, detection, and forwarding.
// Failures are isolated to the envelope; nothing here can take down a
// sibling or the receive loop.
func (p *Pipeline) process(ctx context.Context, env *models.Envelope) {
	log := slog.With(
		logging.CameraID(env.CameraID),
		logging.EventID(env.EventID),
		logging.EnvelopeID(env.ID),
	)

	if len(env.ImageBytes) == 0 {
		if p.fetcher == nil {
			p.dropDecode(log, errors.New("event references a snapshot but no fetcher is configured"))
			return
		}
		fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.SnapshotTimeout)
		data, err := p.fetcher.Fetch(fetchCtx, env.SnapshotURL)
		cancel()
		if err != nil {
			p.dropDecode(log, err)
			return
		}
		env.ImageBytes = data
	}

	bounds, ok := p.convert(log, env)
	if !ok {
		return
	}

	p.detect(ctx, log, env, bounds)
	p.forward(ctx, log, env)
}

// convert transcodes the snapshot to PNG in memory and returns the raster
// bounds for the detection stage. ok is false when the envelope was dropped.
func (p *Pipeline) convert(log *slog.Logger, env *models.Envelope) (image.Rectangle, bool) {
	start := time.Now()

	srcFormat := imaging.Sniff(env.ImageBytes)
	img, err := imaging.Decode(env.ImageBytes, srcFormat)
	if err != nil {
		p.dropDecode(log, err)
		return image.Rectangle{}, false
	}

	converted, err := imaging.Encode(img, imaging.PNG)
	if err != nil {
		p.dropDecode(log, err)
		return image.Rectangle{}, false
	}

	env.ConvertedImage = converted
	metrics.ConvertDuration.Observe(time.Since(start).Seconds())

	if p.archive != nil {
		if path, err := p.archive.Save(env); err != nil {
			log.Warn("snapshot archive failed", logging.Error(err))
		} else {
			log.Debug("snapshot archived", slog.String("path", path))
		}
	}
	return img.Bounds(), true
}

func (p *Pipeline) detect(ctx context.Context, log *slog.Logger, env *models.Envelope, bounds image.Rectangle) {
	start := time.Now()

	result, err := p.detector.Detect(ctx, detect.Frame{
		Bytes:  env.ConvertedImage,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	})
	metrics.DetectionDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		// Exhausted retries degrade to a failed detection; the envelope
		// still gets forwarded with the failure marker.
		env.Detection = models.DetectionOutcome{Status: models.DetectionFailed}
		metrics.Detections.WithLabelValues(string(models.DetectionFailed)).Inc()
		p.mutateStats(func(s *Stats) { s.DetectionFailed++ })
		log.Warn("detection failed, forwarding without value", logging.Error(err))

	case result == nil:
		env.Detection = models.DetectionOutcome{Status: models.DetectionNone}
		metrics.Detections.WithLabelValues(string(models.DetectionNone)).Inc()
		p.mutateStats(func(s *Stats) { s.DetectionNone++ })

	default:
		env.Detection = models.DetectionOutcome{Status: models.DetectionFound, Result: result}
		metrics.Detections.WithLabelValues(string(models.DetectionFound)).Inc()
		p.mutateStats(func(s *Stats) { s.Detected++ })
		log.Debug("plate detected",
			slog.String("value", result.Value),
			slog.Float64("confidence", result.Confidence),
		)
	}
}

func (p *Pipeline) forward(ctx context.Context, log *slog.Logger, env *models.Envelope) {
	start := time.Now()
	err := p.forwarder.Forward(ctx, env)
	metrics.ForwardDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.Forwards.WithLabelValues("success").Inc()
		p.mutateStats(func(s *Stats) { s.Forwarded++ })
		log.Debug("event forwarded",
			logging.Duration(time.Since(start).Milliseconds()),
		)
		return
	}

	p.mutateStats(func(s *Stats) { s.ForwardFailed++ })

	reason := "transient"
	switch {
	case errors.Is(err, models.ErrForwardRejected):
		reason = "rejected"
	case errors.Is(err, models.ErrForwardExhausted):
		reason = "exhausted"
	}
	metrics.Forwards.WithLabelValues(reason).Inc()
	log.Error("terminal forward failure", logging.Error(err), slog.String("reason", reason))

	if p.dlqWriter != nil {
		if dlqErr := p.dlqWriter.Write(ctx, env, err, reason); dlqErr != nil {
			log.Error("dead letter write failed", logging.Error(dlqErr))
		}
	}
}

func (p *Pipeline) dropDecode(log *slog.Logger, err error) {
	metrics.DecodeErrors.Inc()
	p.mutateStats(func(s *Stats) { s.DecodeDropped++ })
	log.Warn("dropping envelope with unusable image", logging.Error(err))
}

func (p *Pipeline) mutateStats(fn func(*Stats)) {
	p.statsMu.Lock()
	fn(&p.stats)
	p.statsMu.Unlock()
}

// Stats returns a copy of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	return p.stats
}
