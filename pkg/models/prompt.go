package models

import "time"

// Prompt is a versioned prompt document referenced by experiment arms.
// Experiments only need enough of the prompt to resolve ownership and
// render comparisons; full prompt management lives upstream.
type Prompt struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"team_id,omitempty"`
	Title     string    `json:"title"`
	Content   string    `json:"content,omitempty"`
	Version   int       `json:"version,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PromptRef is the compact prompt representation embedded in experiment
// detail responses.
type PromptRef struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
	Version int    `json:"version,omitempty"`
}

// Ref returns the compact representation of the prompt.
func (p *Prompt) Ref() PromptRef {
	return PromptRef{ID: p.ID, Title: p.Title, Content: p.Content, Version: p.Version}
}
