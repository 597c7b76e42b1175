// Package threadurl extracts a board/thread identifier pair from a feed URL.
package threadurl

import (
	"errors"
	"strings"
)

// ErrMalformedURL is returned when the URL does not carry a board and
// thread segment.
var ErrMalformedURL = errors.New("malformed thread url")

// Ref identifies one thread. Distinct URL strings may resolve to the same
// Ref, so Ref (not the raw URL) is the cache key for fetch deduplication.
type Ref struct {
	Board  string
	Thread string
}

func (r Ref) String() string {
	return r.Board + "/" + r.Thread
}

// Parse splits the URL on its last three path separators: the board is the
// third-from-last segment and the thread id the last, e.g.
// https://boards.4chan.org/g/thread/12345 -> {g 12345}.
func Parse(raw string) (Ref, error) {
	parts := strings.Split(raw, "/")
	if len(parts) < 4 {
		return Ref{}, ErrMalformedURL
	}
	ref := Ref{
		Board:  parts[len(parts)-3],
		Thread: parts[len(parts)-1],
	}
	if ref.Board == "" || ref.Thread == "" {
		return Ref{}, ErrMalformedURL
	}
	return ref, nil
}
