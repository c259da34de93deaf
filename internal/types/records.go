package types

import "time"

// Task is a field assignment for a surveyor.
type Task struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	TreeID   string     `json:"tree_id,omitempty"`
	Status   string     `json:"status"`
	DueDate  *time.Time `json:"due_date,omitempty"`
	Assignee string     `json:"assignee,omitempty"`
}

// Report is a submitted field report (validation, growth check, or incident).
type Report struct {
	ID        string    `json:"id"`
	TreeID    string    `json:"tree_id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Tree is a registered tree.
type Tree struct {
	ID        string  `json:"id"`
	SpeciesID string  `json:"species_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	HeightCM  float64 `json:"height_cm,omitempty"`
	Status    string  `json:"status"`
}

// Species is a reference-data entry for tree registration.
type Species struct {
	ID             string `json:"id"`
	CommonName     string `json:"common_name"`
	ScientificName string `json:"scientific_name"`
}
