package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	QueueMLTasks = "ml_tasks"
	QueueDBTasks = "db_tasks"

	RoutingKeyGenerate = "ml.generate"
	RoutingKeySave     = "db.save"
)

const (
	QueueStatusQueued  = "queued"
	QueueStatusRunning = "running"
	QueueStatusDone    = "done"
	QueueStatusFailed  = "failed"
	QueueStatusDead    = "dead"
)

// QueueMessage is one durable message on the broker table. Delivery is
// at-least-once: a failed message below the attempt ceiling becomes claimable
// again after the retry delay, and a running message whose consumer stopped
// heartbeating is reclaimed. Dead messages are never redelivered.
type QueueMessage struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Queue       string         `gorm:"not null;index;column:queue" json:"queue"`
	RoutingKey  string         `gorm:"not null;column:routing_key" json:"routing_key"`
	Status      string         `gorm:"not null;index;column:status" json:"status"`
	Attempts    int            `gorm:"not null;default:0;column:attempts" json:"attempts"`
	LockedAt    *time.Time     `gorm:"column:locked_at" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	LastError   string         `gorm:"column:last_error" json:"last_error,omitempty"`
	Payload     datatypes.JSON `gorm:"type:jsonb;column:payload" json:"payload"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (QueueMessage) TableName() string {
	return "queue_messages"
}
