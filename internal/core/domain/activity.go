package domain

import "time"

// Activity is the stored form of an ingested issue or pull request.
type Activity struct {
	ID        string    `json:"id" db:"id"`
	UnitID    string    `json:"unit_id" db:"unit_id"`
	Category  Category  `json:"category" db:"category"`
	Number    int64     `json:"number" db:"number"`
	Title     string    `json:"title" db:"title"`
	State     string    `json:"state" db:"state"`
	Author    string    `json:"author" db:"author"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
