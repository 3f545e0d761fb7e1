package outbox

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/session"
	"github.com/talkincode/wagate/pkg/common"
)

const (
	DefaultBatchSize   = 100
	DefaultMaxAttempts = 3
	DefaultSendTimeout = 30 * time.Second
)

// Sender is the slice of the session manager the dispatcher delivers
// through.
type Sender interface {
	Send(ctx context.Context, tenant, chatID, text string) (string, error)
	MentionAll(ctx context.Context, tenant, chatID, text string) (string, error)
}

// Service queues messages durably and drains them in the background.
// Rows survive restarts, so an enqueue is a delivery promise even when
// the tenant session is mid-pairing or the process dies.
type Service struct {
	db          *gorm.DB
	sender      Sender
	batchSize   int
	maxAttempts int
	sendTimeout time.Duration

	ticker   *time.Ticker
	stopChan chan struct{}
}

func NewService(db *gorm.DB, sender Sender) *Service {
	return &Service{
		db:          db,
		sender:      sender,
		batchSize:   DefaultBatchSize,
		maxAttempts: DefaultMaxAttempts,
		sendTimeout: DefaultSendTimeout,
		stopChan:    make(chan struct{}),
	}
}

// Tune overrides the dispatch limits. Zero keeps the current value.
// Call before Start, the loop reads these without locking.
func (s *Service) Tune(batchSize, maxAttempts int, sendTimeout time.Duration) {
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if sendTimeout > 0 {
		s.sendTimeout = sendTimeout
	}
}

// Enqueue persists a pending message and returns it. Delivery happens
// on the next dispatch cycle.
func (s *Service) Enqueue(ctx context.Context, tenant, chatID, content string, mentionAll bool) (*domain.WaOutboxMessage, error) {
	tenant = strings.TrimSpace(tenant)
	chatID = strings.TrimSpace(chatID)
	if tenant == "" || chatID == "" {
		return nil, errors.New("tenant and chat id are required")
	}
	if content == "" {
		return nil, errors.New("content is required")
	}
	msg := &domain.WaOutboxMessage{
		ID:         common.UUIDint64(),
		MessageId:  uuid.New().String(),
		TenantCode: tenant,
		ChatId:     chatID,
		Content:    content,
		MentionAll: mentionAll,
		Status:     domain.OutboxStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, errors.Wrap(err, "enqueue message")
	}
	return msg, nil
}

// Start begins periodic dispatching.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s.ticker = time.NewTicker(interval)
	go s.dispatchLoop(ctx)
	zap.L().Info("outbox dispatcher started",
		zap.String("namespace", "outbox"),
		zap.Duration("interval", interval),
	)
}

// Stop halts the dispatch loop. In-flight deliveries finish.
func (s *Service) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopChan)
	zap.L().Info("outbox dispatcher stopped", zap.String("namespace", "outbox"))
}

func (s *Service) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-s.ticker.C:
			s.DispatchOnce(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// DispatchOnce drains one batch of pending rows, then retries failed
// rows that still have attempts left. Rows touched earlier in the same
// cycle wait for the next one.
func (s *Service) DispatchOnce(ctx context.Context) {
	cycleStart := time.Now()

	var pending []*domain.WaOutboxMessage
	err := s.db.WithContext(ctx).
		Where("status = ?", domain.OutboxStatusPending).
		Order("created_at ASC").
		Limit(s.batchSize).
		Find(&pending).Error
	if err != nil {
		zap.L().Error("outbox pending query failed",
			zap.String("namespace", "outbox"), zap.Error(err))
		return
	}
	for _, msg := range pending {
		s.deliver(ctx, msg)
	}

	var failed []*domain.WaOutboxMessage
	err = s.db.WithContext(ctx).
		Where("status = ?", domain.OutboxStatusFailed).
		Where("attempts < ?", s.maxAttempts).
		Where("updated_at < ?", cycleStart).
		Order("created_at ASC").
		Limit(s.batchSize / 2).
		Find(&failed).Error
	if err != nil {
		zap.L().Error("outbox retry query failed",
			zap.String("namespace", "outbox"), zap.Error(err))
		return
	}
	for _, msg := range failed {
		s.deliver(ctx, msg)
	}
}

func (s *Service) deliver(ctx context.Context, msg *domain.WaOutboxMessage) {
	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	var err error
	if msg.MentionAll {
		_, err = s.sender.MentionAll(sendCtx, msg.TenantCode, msg.ChatId, msg.Content)
	} else {
		_, err = s.sender.Send(sendCtx, msg.TenantCode, msg.ChatId, msg.Content)
	}

	if err != nil {
		s.markFailed(ctx, msg, err)
		return
	}

	now := time.Now()
	uerr := s.db.WithContext(ctx).
		Model(&domain.WaOutboxMessage{}).
		Where("id = ?", msg.ID).
		Updates(map[string]interface{}{
			"status":     domain.OutboxStatusSent,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": "",
			"sent_at":    &now,
		}).Error
	if uerr != nil {
		zap.L().Error("outbox sent update failed",
			zap.String("namespace", "outbox"),
			zap.String("message_id", msg.MessageId),
			zap.Error(uerr),
		)
	}
}

func (s *Service) markFailed(ctx context.Context, msg *domain.WaOutboxMessage, cause error) {
	status := domain.OutboxStatusFailed
	// Messages that can never deliver do not earn retries.
	if msg.Attempts+1 >= s.maxAttempts || s.permanent(cause) {
		status = domain.OutboxStatusDead
	}
	uerr := s.db.WithContext(ctx).
		Model(&domain.WaOutboxMessage{}).
		Where("id = ?", msg.ID).
		Updates(map[string]interface{}{
			"status":     status,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": cause.Error(),
		}).Error
	if uerr != nil {
		zap.L().Error("outbox failure update failed",
			zap.String("namespace", "outbox"),
			zap.String("message_id", msg.MessageId),
			zap.Error(uerr),
		)
	}
	zap.L().Warn("outbox delivery failed",
		zap.String("namespace", "outbox"),
		zap.String("tenant", msg.TenantCode),
		zap.String("message_id", msg.MessageId),
		zap.String("status", status),
		zap.Error(cause),
	)
}

func (s *Service) permanent(err error) bool {
	return errors.Is(err, session.ErrNotEntitled) || errors.Is(err, session.ErrNotAGroup)
}

// List returns a tenant's recent outbox rows, newest first.
func (s *Service) List(ctx context.Context, tenant string, page, pageSize int) ([]*domain.WaOutboxMessage, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}
	query := s.db.WithContext(ctx).Model(&domain.WaOutboxMessage{})
	if tenant != "" {
		query = query.Where("tenant_code = ?", tenant)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []*domain.WaOutboxMessage
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error
	return rows, total, err
}
