package model

import "time"

// Note is the single record type kept by the store. ID and CreatedAt are
// assigned on creation and never change.
type Note struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
}
