// Package attendance plays the Attendance collaborator: it owns the presence
// records written after a scan is accepted. The scan core only signals it;
// duplicate policy (first scan wins) lives here.
package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"qrattend/internal/queue"
)

// MessageType tags accepted-scan messages on the queue.
const MessageType = "scan.accepted"

// AcceptedScan is what the validator hands over once a scan passes every
// check.
type AcceptedScan struct {
	TokenID    string    `json:"token_id"`
	ActivityID string    `json:"activity_id"`
	StudentID  string    `json:"student_id"`
	ScannedAt  time.Time `json:"scanned_at"`
}

// Recorder accepts the signal that presence should be recorded. Recording
// must be duplicate-tolerant so a retried scan never double-counts.
type Recorder interface {
	Record(ctx context.Context, scan AcceptedScan) error
}

// QueueRecorder hands accepted scans to the worker over the queue. The
// worker-side upsert makes redelivery harmless.
type QueueRecorder struct {
	q queue.Queue
}

// NewQueueRecorder creates a recorder publishing to q.
func NewQueueRecorder(q queue.Queue) *QueueRecorder {
	return &QueueRecorder{q: q}
}

// Record publishes the accepted scan.
func (r *QueueRecorder) Record(ctx context.Context, scan AcceptedScan) error {
	body, err := json.Marshal(scan)
	if err != nil {
		return fmt.Errorf("marshal accepted scan: %w", err)
	}
	return r.q.Publish(ctx, queue.Message{Type: MessageType, Body: body})
}

// StoreRecorder writes presence records directly, bypassing the queue. Used
// when the service runs without a worker (memory mode).
type StoreRecorder struct {
	store Store
}

// NewStoreRecorder creates a direct recorder.
func NewStoreRecorder(store Store) *StoreRecorder {
	return &StoreRecorder{store: store}
}

// Record upserts the presence record.
func (r *StoreRecorder) Record(ctx context.Context, scan AcceptedScan) error {
	_, err := r.store.Upsert(ctx, scan)
	return err
}
