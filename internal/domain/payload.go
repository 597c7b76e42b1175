package domain

import "time"

// Payload is a destination-ready rendering of one post. Exactly one of
// Text or Card is set.
type Payload struct {
	Text string    `json:"text,omitempty"`
	Card *RichCard `json:"card,omitempty"`
}

// RichCard is the embed form of a payload.
type RichCard struct {
	AuthorName    string    `json:"author_name"`
	AuthorIconURL string    `json:"author_icon_url,omitempty"`
	Description   string    `json:"description"`
	Color         int       `json:"color"`
	Timestamp     time.Time `json:"timestamp"`
	ThumbnailURL  string    `json:"thumbnail_url,omitempty"`
	FooterText    string    `json:"footer_text,omitempty"`
}
