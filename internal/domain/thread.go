package domain

import "time"

// Post is one deliverable unit of a thread: the topic post or a reply.
// Numbers are unique and strictly increasing within a thread.
type Post struct {
	Number       int64
	Timestamp    time.Time
	AuthorName   string
	AuthorHash   string
	Tripcode     string
	RawComment   string // original markup as returned by the source
	Comment      string // plain text with quote markers preserved literally
	URL          string
	MediaURL     string // full-size attachment, empty when the post has none
	ThumbnailURL string
}

// Snapshot is one fetched, point-in-time view of a thread. It lives for a
// single tick and is never persisted.
type Snapshot struct {
	Board       string
	Thread      string
	Topic       Post
	Replies     []Post // ascending by number
	LastReplyID int64
	Archived    bool
	Sticky      bool
	BumpLimit   bool
	ImageCount  int
}

// LatestReply returns the most recent reply, or the topic when the thread
// has no replies yet.
func (s *Snapshot) LatestReply() Post {
	if len(s.Replies) == 0 {
		return s.Topic
	}
	return s.Replies[len(s.Replies)-1]
}

// RepliesAfter returns every reply numbered strictly above n, in ascending
// order. Replies are stored ascending, so the suffix starting at the first
// qualifying reply is the answer.
func (s *Snapshot) RepliesAfter(n int64) []Post {
	for i, r := range s.Replies {
		if r.Number > n {
			return s.Replies[i:]
		}
	}
	return nil
}
