// Package worker implements the alert processing pipeline: parse, resolve,
// persist, notify.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/whale-sentinel/internal/metrics"
	"github.com/JakeFAU/whale-sentinel/internal/whale"
)

// Config controls Worker behavior.
type Config struct {
	Topic       string
	ArchivePath string
}

// Worker consumes queue items and executes the alert pipeline. Failures are
// contained at the item boundary: a bad event is logged and dropped, never
// allowed to take the worker down.
type Worker struct {
	queue     whale.Queue
	parser    whale.Parser
	resolver  whale.FingerprintResolver
	store     whale.AlertStore
	publisher whale.Publisher
	archive   whale.BlobStore
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. The publisher and archive are optional; nil
// disables notification and raw-event archiving.
func New(
	queue whale.Queue,
	parser whale.Parser,
	resolver whale.FingerprintResolver,
	store whale.AlertStore,
	publisher whale.Publisher,
	archive whale.BlobStore,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.Topic == "" {
		cfg.Topic = "whale-alerts"
	}
	if cfg.ArchivePath == "" {
		cfg.ArchivePath = "events"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		parser:    parser,
		resolver:  resolver,
		store:     store,
		publisher: publisher,
		archive:   archive,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "worker")),
	}
}

// Run blocks, consuming queue items until pullCtx finishes. In-flight items
// keep processing under procCtx, so a drain can stop intake while letting
// current work complete.
func (w *Worker) Run(pullCtx, procCtx context.Context) {
	for {
		item, err := w.queue.Dequeue(pullCtx)
		if err != nil {
			if pullCtx.Err() != nil || errors.Is(err, whale.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.Process(procCtx, item)
	}
}

// Process runs the pipeline for one dequeued item and always balances it
// with exactly one queue.Done.
func (w *Worker) Process(ctx context.Context, item whale.QueueItem) {
	defer w.queue.Done()
	defer func() {
		if r := recover(); r != nil {
			metrics.ObserveAlertFailed("panic")
			w.logger.Error("panic processing event",
				zap.String("event_id", item.Event.EventID),
				zap.Any("panic", r),
			)
		}
	}()

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer metrics.SetQueueDepth(w.queue.Len())

	log := w.logger.With(zap.String("event_id", item.Event.EventID))

	w.archiveEvent(ctx, item.Event, log)

	rec, err := w.parser.ParseMessage(ctx, item.Event)
	if err != nil {
		metrics.ObserveAlertFailed("parse")
		log.Error("dropping event, parse failed", zap.Error(err))
		return
	}

	fingerprint, err := w.resolver.Resolve(ctx, *rec)
	if err != nil {
		metrics.ObserveAlertFailed("fingerprint")
		log.Error("dropping event, fingerprint resolution failed", zap.Error(err))
		return
	}
	rec.Fingerprint = fingerprint

	alert, err := w.store.InsertAlert(ctx, *rec)
	if err != nil {
		if errors.Is(err, whale.ErrDuplicateAlert) {
			metrics.ObserveAlertDuplicate()
			log.Info("alert already stored", zap.String("fingerprint", rec.Fingerprint))
			return
		}
		metrics.ObserveAlertFailed("storage")
		log.Error("dropping event, insert failed", zap.Error(err))
		return
	}

	metrics.ObserveAlertPersisted()
	log.Info("persisted whale alert",
		zap.String("alert_id", alert.ID),
		zap.String("symbol", alert.Symbol),
		zap.Float64("amount_usd", alert.AmountUSD),
	)

	w.notify(ctx, alert, log)
}

// archiveEvent stores the raw event as JSON. Best effort: archive failures
// never block the pipeline.
func (w *Worker) archiveEvent(ctx context.Context, event whale.RawEvent, log *zap.Logger) {
	if w.archive == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event_id":  event.EventID,
		"text":      event.Text,
		"timestamp": event.Timestamp.UTC(),
	})
	if err != nil {
		log.Warn("marshal raw event for archive", zap.Error(err))
		return
	}
	path := fmt.Sprintf("%s/%s/%s.json",
		w.cfg.ArchivePath,
		event.Timestamp.UTC().Format("2006/01/02"),
		event.EventID,
	)
	uri, err := w.archive.PutObject(ctx, path, "application/json", payload)
	if err != nil {
		log.Warn("archive raw event", zap.Error(err))
		return
	}
	log.Debug("archived raw event", zap.String("uri", uri))
}

// notify publishes the persisted alert. Best effort: the row is already
// committed, so a publish failure is logged and dropped.
func (w *Worker) notify(ctx context.Context, alert whale.PersistedAlert, log *zap.Logger) {
	if w.publisher == nil {
		return
	}
	msgID, err := w.publisher.Publish(ctx, w.cfg.Topic, alert)
	if err != nil {
		log.Warn("publish alert notification", zap.Error(err))
		return
	}
	log.Debug("published alert notification", zap.String("message_id", msgID))
}
