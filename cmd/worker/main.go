package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/logging"
	"qrattend/internal/queue"
	"qrattend/internal/store"
)

// Worker consumes accepted-scan messages and writes attendance records. It
// is the Attendance collaborator: the first accepted scan per student and
// activity wins, redeliveries are no-ops.
func main() {
	cfg := config.Load()
	log := logging.Init(cfg.Env, cfg.LogLevel)
	defer logging.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "qrattend:scans")
	}

	records := attendance.NewRepository(db.Client)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatal("queue consume init failed", zap.Error(err))
	}

	log.Info("worker started, waiting for accepted scans")
	for msg := range messages {
		if msg.Type != attendance.MessageType {
			continue
		}

		var scan attendance.AcceptedScan
		if err := json.Unmarshal(msg.Body, &scan); err != nil {
			log.Warn("dropping undecodable message", zap.Error(err))
			continue
		}

		rec, err := records.Upsert(ctx, scan)
		if err != nil {
			// Leave the failure in the log; the student's retry republishes.
			log.Error("attendance write failed",
				zap.String("student_id", scan.StudentID),
				zap.String("activity_id", scan.ActivityID),
				zap.Error(err))
			continue
		}

		log.Info("attendance recorded",
			zap.String("record_id", rec.ID),
			zap.String("student_id", rec.StudentID),
			zap.String("activity_id", rec.ActivityID))
	}

	log.Info("worker stopped")
}
