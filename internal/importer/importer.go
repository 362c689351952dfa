// Package importer merges normalized drafts into the store, skipping rows
// whose external transaction id is already present, and records one
// import batch per call.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"spendwise/internal/amqp"
	"spendwise/internal/core"
	"spendwise/internal/log"
	"spendwise/internal/source"
)

// maxReportedFailures bounds the row errors kept on a batch summary.
const maxReportedFailures = 20

// Store is the persistence the importer needs.
type Store interface {
	InsertIfAbsent(ctx context.Context, d core.Draft) (id int64, inserted bool, err error)
	CreateImportBatch(ctx context.Context, b *core.ImportBatch) error
}

// EventPublisher announces finished imports. amqp.NopPublisher satisfies
// it when no broker is configured.
type EventPublisher interface {
	PublishImportCompleted(ctx context.Context, msg *amqp.ImportCompletedMessage) error
	PublishClassifyRequest(ctx context.Context, msg *amqp.ClassifyRequestMessage) error
}

type Options struct {
	// AutoClassify requests a classification batch after every import
	// that created rows.
	AutoClassify bool
	// OnImported runs after rows were inserted, e.g. to drop cached
	// aggregates.
	OnImported func()
}

type Importer struct {
	mu        sync.Mutex
	store     Store
	publisher EventPublisher
	opts      Options
	logger    *log.StructuredLogger
	now       func() time.Time
}

func New(store Store, publisher EventPublisher, logger *log.Logger, opts Options) *Importer {
	if publisher == nil {
		publisher = amqp.NopPublisher{}
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Importer{
		store:     store,
		publisher: publisher,
		opts:      opts,
		logger:    log.NewStructuredLogger(logger.WithComponent(log.ComponentImport)),
		now:       time.Now,
	}
}

// Import reads one export and stores its rows. Per-row parse failures are
// counted, not returned. A store failure aborts the import; rows inserted
// before it stay, and a Failed batch is recorded when possible.
func (im *Importer) Import(ctx context.Context, channel core.Channel, fileName string, r io.Reader) (core.ImportBatch, error) {
	if _, err := core.ParseChannel(string(channel)); err != nil {
		return core.ImportBatch{}, err
	}

	im.mu.Lock()
	defer im.mu.Unlock()

	batch := core.ImportBatch{
		SourceChannel:  channel,
		FileIdentifier: fileIdentifier(fileName),
		ImportedAt:     im.now(),
	}

	reader, err := source.NewReader(channel, r)
	if err != nil {
		batch.Failures = []string{err.Error()}
		return im.abort(ctx, batch, fmt.Errorf("parse %s export: %w", channel, err))
	}

	for d := range reader.Drafts() {
		if err := ctx.Err(); err != nil {
			im.fillStats(&batch, reader)
			return im.abort(ctx, batch, err)
		}
		_, inserted, err := im.store.InsertIfAbsent(ctx, d)
		if err != nil {
			im.fillStats(&batch, reader)
			return im.abort(ctx, batch, fmt.Errorf("insert expense %q: %w", d.ExternalTransactionID, err))
		}
		if inserted {
			batch.RecordsImported++
		} else {
			batch.RecordsSkippedDuplicate++
		}
	}

	im.fillStats(&batch, reader)
	batch.Status = core.DeriveImportStatus(batch.RecordsSeen, batch.RecordsImported, batch.RecordsFailedParse)

	if err := im.store.CreateImportBatch(ctx, &batch); err != nil {
		im.afterInsert(batch)
		return batch, fmt.Errorf("record import batch: %w", err)
	}

	im.logger.LogImportCompleted(ctx, batch.ID, string(channel), string(batch.Status),
		batch.RecordsSeen, batch.RecordsImported, batch.RecordsSkippedDuplicate, batch.RecordsFailedParse)

	im.afterInsert(batch)
	im.publish(ctx, batch)
	return batch, nil
}

func (im *Importer) fillStats(b *core.ImportBatch, r *source.Reader) {
	stats := r.Stats()
	b.RecordsSeen = stats.Seen
	b.RecordsFailedParse = stats.Failed
	b.RecordsFiltered = stats.Filtered

	for i, f := range r.Failures() {
		if i == maxReportedFailures {
			break
		}
		b.Failures = append(b.Failures, f.Error())
	}
}

// abort records a best-effort Failed batch and returns cause.
func (im *Importer) abort(ctx context.Context, batch core.ImportBatch, cause error) (core.ImportBatch, error) {
	batch.Status = core.ImportFailed
	im.afterInsert(batch)

	// The caller's context may be the reason we are here.
	storeCtx := context.WithoutCancel(ctx)
	if err := im.store.CreateImportBatch(storeCtx, &batch); err != nil {
		im.logger.LogError(ctx, "Failed to record failed import batch", err,
			log.ComponentImport, log.OpImport, nil)
		return batch, errors.Join(cause, err)
	}
	im.logger.LogError(ctx, "Import aborted", cause, log.ComponentImport, log.OpImport,
		log.LogFields{log.FieldBatchID: batch.ID})
	return batch, cause
}

func (im *Importer) afterInsert(batch core.ImportBatch) {
	if batch.RecordsImported > 0 && im.opts.OnImported != nil {
		im.opts.OnImported()
	}
}

// publish is fire-and-forget: a broker outage never fails an import.
func (im *Importer) publish(ctx context.Context, batch core.ImportBatch) {
	if err := im.publisher.PublishImportCompleted(ctx, amqp.NewImportCompletedMessage(batch)); err != nil {
		im.logger.LogError(ctx, "Failed to publish import event", err,
			log.ComponentAMQP, log.OpImport, nil)
	}
	if !im.opts.AutoClassify || batch.RecordsImported == 0 {
		return
	}
	msg := amqp.NewClassifyRequestMessage(fmt.Sprintf("import:%d", batch.ID), 0)
	if err := im.publisher.PublishClassifyRequest(ctx, msg); err != nil {
		im.logger.LogError(ctx, "Failed to request classification", err,
			log.ComponentAMQP, log.OpClassify, nil)
	}
}

// fileIdentifier keeps repeated uploads of the same file distinguishable.
func fileIdentifier(name string) string {
	if name == "" {
		name = "upload"
	}
	return name + "-" + uuid.NewString()[:8]
}
