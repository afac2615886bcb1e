// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adiadia/demo-orchestrator/internal/domain"
)

const sinkTimeout = 30 * time.Second

// Sink receives every appended record after it is stored. Delivery is
// asynchronous and failures stay inside the sink.
type Sink interface {
	Notify(ctx context.Context, rec domain.AuditRecord)
}

// Tee stores records in a Log, writes an audit log line and fans each stored
// record out to the sinks.
type Tee struct {
	log    Log
	logger *slog.Logger
	sinks  []Sink
	wg     sync.WaitGroup
}

func NewTee(log Log, logger *slog.Logger, sinks ...Sink) *Tee {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tee{log: log, logger: logger, sinks: sinks}
}

func (t *Tee) Append(ctx context.Context, rec domain.AuditRecord) (domain.AuditRecord, error) {
	stored, err := t.log.Append(ctx, rec)
	if err != nil {
		return domain.AuditRecord{}, err
	}

	t.logger.Info("audit",
		"seq", stored.Seq,
		"outcome", stored.Outcome,
		"project_id", stored.ProjectID,
		"origin", stored.Origin,
		"detail", stored.Detail,
	)

	for _, sink := range t.sinks {
		t.wg.Add(1)
		go func(s Sink) {
			defer t.wg.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
			defer cancel()
			s.Notify(sctx, stored)
		}(sink)
	}
	return stored, nil
}

func (t *Tee) List(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	return t.log.List(ctx, limit)
}

// Wait blocks until in-flight sink deliveries finish.
func (t *Tee) Wait() {
	t.wg.Wait()
}
