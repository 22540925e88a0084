// Package audit delivers audit records to durable storage, logs, the live
// stream and a message broker.
package audit

import (
	"context"
	"errors"

	"lidar.app/internal/auth"
	"lidar.app/internal/stream"
)

// Multi records to every sink in order and joins their errors.
type Multi []auth.AuditRecorder

func (m Multi) Record(ctx context.Context, rec auth.AuditRecord) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StoreSink appends records to the audit_logs table.
type StoreSink struct {
	Store auth.Store
}

func (s StoreSink) Record(ctx context.Context, rec auth.AuditRecord) error {
	return s.Store.Audit(ctx).Append(ctx, &rec)
}

// StreamSink publishes records to live subscribers.
type StreamSink struct {
	Stream *stream.Stream
}

func (s StreamSink) Record(_ context.Context, rec auth.AuditRecord) error {
	s.Stream.Publish(rec)
	return nil
}
