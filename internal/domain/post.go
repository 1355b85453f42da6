// Package domain contains core domain types for the Skywriter application.
package domain

import (
	"time"
)

// Category classifies a post. The set is closed.
type Category string

const (
	CategoryRant       Category = "Rant"
	CategoryPerfectDay Category = "Perfect Day"
)

// Categories lists every valid post category.
var Categories = []Category{CategoryRant, CategoryPerfectDay}

// IsValid reports whether c is one of the known categories.
func (c Category) IsValid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Post is a short anonymous message. Posts are immutable after creation.
type Post struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Category  Category  `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}
