package domain

import "time"

// WaSession is the durable snapshot of a tenant's messaging session.
// The live state machine is in memory; these rows exist so the gateway
// knows which tenants to restore after a restart and lets operators
// inspect last known states without touching the runtime.
type WaSession struct {
	ID           int64     `json:"id,string"`
	TenantCode   string    `gorm:"uniqueIndex" json:"tenant_code"`
	Jid          string    `json:"jid"`
	State        string    `json:"state"` // INITIALIZING ... DISCONNECTED
	LastError    string    `json:"last_error"`
	LastOnlineAt time.Time `json:"last_online_at"`
	PairedAt     time.Time `json:"paired_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName Specify table name
func (WaSession) TableName() string {
	return "wa_session"
}

const (
	OutboxStatusPending = "pending"
	OutboxStatusSent    = "sent"
	OutboxStatusFailed  = "failed"
	OutboxStatusDead    = "dead"
)

// WaOutboxMessage queues a text for durable delivery. Failed rows are
// retried until Attempts reaches the dispatcher limit, then marked dead.
type WaOutboxMessage struct {
	ID         int64      `json:"id,string"`
	MessageId  string     `gorm:"uniqueIndex" json:"message_id"`
	TenantCode string     `gorm:"index" json:"tenant_code" form:"tenant_code"`
	ChatId     string     `json:"chat_id" form:"chat_id"`
	Content    string     `json:"content" form:"content"`
	MentionAll bool       `json:"mention_all" form:"mention_all"`
	Status     string     `gorm:"index" json:"status"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"last_error"`
	SentAt     *time.Time `json:"sent_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName Specify table name
func (WaOutboxMessage) TableName() string {
	return "wa_outbox_message"
}

// WaEventLog records session lifecycle events for audit.
type WaEventLog struct {
	ID         int64     `json:"id,string"`
	TenantCode string    `gorm:"index" json:"tenant_code"`
	Event      string    `json:"event"`
	Detail     string    `json:"detail"`
	EventTime  time.Time `gorm:"index" json:"event_time"`
}

// TableName Specify table name
func (WaEventLog) TableName() string {
	return "wa_event_log"
}
