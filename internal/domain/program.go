package domain

import "time"

// Program is one remote execution recorded for a room: the submitted
// source and the stdout the execution service returned.
type Program struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Room      string    `gorm:"index;size:64" json:"room"`
	Language  string    `gorm:"size:16" json:"language"`
	Stdin     string    `gorm:"type:text" json:"stdin"`
	Stdout    string    `gorm:"type:text" json:"stdout"`
	CreatedAt time.Time `json:"created_at"`
}
