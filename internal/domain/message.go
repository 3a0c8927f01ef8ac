package domain

import "time"

// Message is one chat message in the shared room. Rows are append-only:
// nothing in the service mutates or deletes a message after insert.
type Message struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	AuthorID   string    `json:"authorId" gorm:"index;not null"`
	AuthorName string    `json:"authorName" gorm:"not null"`
	Content    string    `json:"content" gorm:"not null"`
	Timestamp  time.Time `json:"timestamp" gorm:"index;not null"`
}

// MessageFilter selects a slice of history. Zero value means "everything"
// (still capped by the store). StartDate/EndDate are calendar dates at UTC
// midnight; an explicit date range takes precedence over LastNDays.
type MessageFilter struct {
	LastNDays int
	StartDate time.Time
	EndDate   time.Time
}
