package postgres

import (
	"context"
	"time"

	"github.com/lwang/campus-chat/internal/domain"
	"gorm.io/gorm"
)

// MaxQueryResults caps every history query regardless of filter.
const MaxQueryResults = 1000

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *messageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Append(ctx context.Context, message *domain.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

// Query returns messages matching the filter in ascending (timestamp, id)
// order, capped at MaxQueryResults. Date bounds are inclusive calendar dates:
// an end date of 2024-01-31 includes everything before 2024-02-01 00:00 UTC.
func (r *messageRepository) Query(ctx context.Context, filter domain.MessageFilter) ([]*domain.Message, error) {
	q := r.db.WithContext(ctx).Model(&domain.Message{})

	switch {
	case !filter.StartDate.IsZero() && !filter.EndDate.IsZero():
		q = q.Where("timestamp >= ? AND timestamp < ?", filter.StartDate, filter.EndDate.AddDate(0, 0, 1))
	case !filter.StartDate.IsZero():
		q = q.Where("timestamp >= ?", filter.StartDate)
	case !filter.EndDate.IsZero():
		q = q.Where("timestamp < ?", filter.EndDate.AddDate(0, 0, 1))
	case filter.LastNDays > 0:
		q = q.Where("timestamp >= ?", time.Now().UTC().AddDate(0, 0, -filter.LastNDays))
	}

	var messages []*domain.Message
	err := q.Order("timestamp ASC, id ASC").Limit(MaxQueryResults).Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}
