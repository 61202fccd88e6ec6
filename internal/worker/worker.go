package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mailflow-go/internal/config"
	"mailflow-go/internal/job"
	"mailflow-go/internal/metrics"
	"mailflow-go/internal/queue"
	"mailflow-go/internal/service"
)

// MessageQueue is the consumer side of the work queue
type MessageQueue interface {
	Read(ctx context.Context, queue string, visibility time.Duration, max int) ([]queue.Message, error)
	Delete(ctx context.Context, queue, msgID string) error
	DeadLetter(ctx context.Context, msg queue.Message, reason string) error
}

// Dispatcher polls the work queues and routes leased messages to the
// pipeline services. Delivery is at least once: work only disappears
// from a queue after the handler returns nil, and a message read too
// many times moves to the dead-letter table instead of looping forever.
type Dispatcher struct {
	cfg           *config.PipelineConfig
	queue         MessageQueue
	importer      *service.Importer
	classifier    *service.Classifier
	consolidator  *service.Consolidator
	voice         *service.VoiceService
	drafter       *service.Drafter
	conversations service.ConversationStore
	metrics       *metrics.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	run    bool
}

// NewDispatcher wires the queue consumers
func NewDispatcher(
	cfg *config.PipelineConfig,
	q MessageQueue,
	importer *service.Importer,
	classifier *service.Classifier,
	consolidator *service.Consolidator,
	voice *service.VoiceService,
	drafter *service.Drafter,
	conversations service.ConversationStore,
	m *metrics.Metrics,
) *Dispatcher {
	return &Dispatcher{
		cfg:           cfg,
		queue:         q,
		importer:      importer,
		classifier:    classifier,
		consolidator:  consolidator,
		voice:         voice,
		drafter:       drafter,
		conversations: conversations,
		metrics:       m,
	}
}

// Start launches one polling loop per worker. Workers share all queues
// round-robin rather than pinning a queue per worker, so a burst on one
// queue can use the whole pool.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.run {
		return
	}
	d.run = true

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	for i := 0; i < d.cfg.WorkerCount; i++ {
		d.wg.Add(1)
		go d.loop(ctx, i)
	}
	logrus.Infof("Dispatcher started with %d workers", d.cfg.WorkerCount)
}

// Stop signals the workers and waits for in-flight units to finish
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.run {
		d.mu.Unlock()
		return
	}
	d.run = false
	d.cancel()
	d.mu.Unlock()

	d.wg.Wait()
	logrus.Info("Dispatcher stopped")
}

// IsRunning reports whether workers are active
func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.run
}

func (d *Dispatcher) loop(ctx context.Context, id int) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		worked := d.pollOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if worked {
			// Drain while there is work; only idle waits on the ticker.
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollOnce sweeps every job queue and reports whether anything was
// processed
func (d *Dispatcher) pollOnce(ctx context.Context) bool {
	worked := false
	for _, kind := range job.Kinds() {
		if ctx.Err() != nil {
			return worked
		}
		msgs, err := d.queue.Read(ctx, kind.Queue(), d.cfg.Visibility, 1)
		if err != nil {
			logrus.Errorf("Failed to read queue %s: %v", kind.Queue(), err)
			continue
		}
		for _, msg := range msgs {
			worked = true
			d.handle(ctx, msg)
		}
	}
	return worked
}

func (d *Dispatcher) handle(ctx context.Context, msg queue.Message) {
	if msg.ReadCt > d.cfg.MaxAttempts {
		d.deadLetter(ctx, msg, fmt.Sprintf("exceeded %d delivery attempts", d.cfg.MaxAttempts))
		return
	}

	started := time.Now()
	err := d.dispatch(ctx, msg)
	d.metrics.UnitDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		// Leave the message leased; it reappears after the visibility
		// timeout for another attempt.
		logrus.Errorf("Unit failed on queue %s (attempt %d): %v", msg.Queue, msg.ReadCt, err)
		return
	}

	if err := d.queue.Delete(ctx, msg.Queue, msg.ID); err != nil {
		logrus.Errorf("Failed to delete completed message %s: %v", msg.ID, err)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, msg queue.Message) error {
	env, err := job.Decode(msg.Payload)
	if err != nil {
		d.deadLetter(ctx, msg, fmt.Sprintf("undecodable payload: %v", err))
		return nil
	}

	switch env.Kind {
	case job.KindImport:
		var p job.ImportPayload
		if err := env.DecodeData(&p); err != nil {
			d.deadLetter(ctx, msg, fmt.Sprintf("bad import payload: %v", err))
			return nil
		}
		return d.importer.Process(ctx, env.WorkspaceID, p)

	case job.KindClassify:
		var p job.ClassifyPayload
		if err := env.DecodeData(&p); err != nil {
			d.deadLetter(ctx, msg, fmt.Sprintf("bad classify payload: %v", err))
			return nil
		}
		return d.classifier.Process(ctx, env.WorkspaceID, p)

	case job.KindConsolidate:
		var p job.ConsolidatePayload
		if err := env.DecodeData(&p); err != nil {
			d.deadLetter(ctx, msg, fmt.Sprintf("bad consolidate payload: %v", err))
			return nil
		}
		return d.consolidator.Process(ctx, env.WorkspaceID, p)

	case job.KindVoiceLearn:
		return d.voice.Process(ctx, env.WorkspaceID)

	case job.KindTriage:
		var p job.TriagePayload
		if err := env.DecodeData(&p); err != nil {
			d.deadLetter(ctx, msg, fmt.Sprintf("bad triage payload: %v", err))
			return nil
		}
		m, err := d.conversations.GetMessage(ctx, p.MessageID)
		if err != nil {
			return err
		}
		return d.classifier.Triage(ctx, env.WorkspaceID, p, m)

	case job.KindDraft:
		var p job.DraftPayload
		if err := env.DecodeData(&p); err != nil {
			d.deadLetter(ctx, msg, fmt.Sprintf("bad draft payload: %v", err))
			return nil
		}
		return d.drafter.Process(ctx, env.WorkspaceID, p)

	default:
		d.deadLetter(ctx, msg, fmt.Sprintf("unknown job kind %q", env.Kind))
		return nil
	}
}

func (d *Dispatcher) deadLetter(ctx context.Context, msg queue.Message, reason string) {
	if err := d.queue.DeadLetter(ctx, msg, reason); err != nil {
		logrus.Errorf("Failed to dead-letter message %s: %v", msg.ID, err)
		return
	}
	d.metrics.DeadLetters.Inc()
	logrus.Warnf("Dead-lettered message %s from %s: %s", msg.ID, msg.Queue, reason)
}
