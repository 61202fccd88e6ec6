package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mailflow-go/internal/model"
)

// Queue is a durable FIFO work queue backed by a Postgres table.
// Delivery is at-least-once: a read leases the message for the
// visibility window and bumps its read count; only an explicit Delete
// removes it. A handler crash makes the message visible again once the
// window lapses.
type Queue struct {
	db *gorm.DB
}

// Message is a leased queue entry handed to a consumer
type Message struct {
	ID      string
	Queue   string
	ReadCt  int
	Payload []byte
}

// New creates a queue on the given database
func New(db *gorm.DB) *Queue {
	return &Queue{db: db}
}

// Send enqueues a payload, optionally delayed before it becomes visible
func (q *Queue) Send(ctx context.Context, queue string, payload []byte, delay time.Duration) error {
	now := time.Now()
	msg := model.QueueMessage{
		ID:         uuid.New().String(),
		Queue:      queue,
		Payload:    payload,
		VisibleAt:  now.Add(delay),
		EnqueuedAt: now,
	}

	if err := q.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	return nil
}

// Read leases up to max visible messages from the queue for the
// visibility window. Concurrent readers never receive the same message
// thanks to SKIP LOCKED row locking.
func (q *Queue) Read(ctx context.Context, queue string, visibility time.Duration, max int) ([]Message, error) {
	var leased []Message

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []model.QueueMessage
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("queue = ? AND visible_at <= ?", queue, time.Now()).
			Order("enqueued_at ASC").
			Limit(max).
			Find(&rows).Error
		if err != nil {
			return fmt.Errorf("failed to select messages: %w", err)
		}

		if len(rows) == 0 {
			return nil
		}

		until := time.Now().Add(visibility)
		for i := range rows {
			err := tx.Model(&model.QueueMessage{}).
				Where("id = ?", rows[i].ID).
				Updates(map[string]interface{}{
					"read_ct":    gorm.Expr("read_ct + 1"),
					"visible_at": until,
				}).Error
			if err != nil {
				return fmt.Errorf("failed to lease message %s: %w", rows[i].ID, err)
			}

			leased = append(leased, Message{
				ID:      rows[i].ID,
				Queue:   rows[i].Queue,
				ReadCt:  rows[i].ReadCt + 1,
				Payload: rows[i].Payload,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return leased, nil
}

// Delete acknowledges a message, removing it permanently
func (q *Queue) Delete(ctx context.Context, queue, msgID string) error {
	result := q.db.WithContext(ctx).
		Where("queue = ? AND id = ?", queue, msgID).
		Delete(&model.QueueMessage{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete message: %w", result.Error)
	}
	return nil
}

// DeadLetter moves an exhausted message to the dead-letter table and
// removes it from the active queue
func (q *Queue) DeadLetter(ctx context.Context, msg Message, reason string) error {
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dead := model.DeadLetter{
			ID:       msg.ID,
			Queue:    msg.Queue,
			Payload:  msg.Payload,
			ReadCt:   msg.ReadCt,
			Reason:   reason,
			FailedAt: time.Now(),
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&dead).Error; err != nil {
			return fmt.Errorf("failed to write dead letter: %w", err)
		}
		if err := tx.Where("id = ?", msg.ID).Delete(&model.QueueMessage{}).Error; err != nil {
			return fmt.Errorf("failed to remove dead message: %w", err)
		}
		return nil
	})
}
