package fourchan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"sync"
	"time"

	"threadfeed/internal/domain"
)

const (
	SourceID   = "4chan"
	SourceName = "4chan"
)

var errStatusNotFound = errors.New("not found")

// Config holds 4chan API client configuration.
type Config struct {
	APIBaseURL     string
	BoardsBaseURL  string
	MediaBaseURL   string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BoardListTTL   time.Duration
}

// Client fetches thread snapshots from the 4chan JSON API.
type Client struct {
	httpClient     *http.Client
	apiBaseURL     string
	boardsBaseURL  string
	mediaBaseURL   string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger

	mu           sync.Mutex
	boards       map[string]struct{}
	boardsAsOf   time.Time
	boardListTTL time.Duration
}

// New creates a new 4chan client.
func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		apiBaseURL:     cfg.APIBaseURL,
		boardsBaseURL:  cfg.BoardsBaseURL,
		mediaBaseURL:   cfg.MediaBaseURL,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		boardListTTL:   cfg.BoardListTTL,
		logger:         logger.With("source", SourceID),
	}
}

// ID returns the source identifier.
func (c *Client) ID() string {
	return SourceID
}

// FetchThread fetches one thread snapshot. Failures are returned as *Error
// with the kind classified: transport problems and timeouts are retried up
// to the configured attempt count, missing boards/threads are not.
func (c *Client) FetchThread(ctx context.Context, board, thread string) (*domain.Snapshot, error) {
	url := fmt.Sprintf("%s/%s/thread/%s.json", c.apiBaseURL, board, thread)

	var t *apiThread
	var err error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		t, err = c.getThread(ctx, url)
		if err == nil {
			break
		}
		if errors.Is(err, errStatusNotFound) || attempt == c.maxAttempts {
			break
		}

		backoff := c.calculateBackoff(attempt)
		c.logger.Debug("thread fetch failed, retrying",
			"board", board,
			"thread", thread,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, &Error{Kind: KindUnreachable, Board: board, Thread: thread, Err: ctx.Err()}
		case <-time.After(backoff):
		}
	}

	if err != nil {
		return nil, c.classify(ctx, board, thread, err)
	}

	snap, err := c.transform(board, thread, t)
	if err != nil {
		return nil, &Error{Kind: KindUnexpected, Board: board, Thread: thread, Err: err}
	}
	return snap, nil
}

func (c *Client) getThread(ctx context.Context, url string) (*apiThread, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "threadfeed/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errStatusNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var t apiThread
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &t, nil
}

// classify maps a raw fetch error onto the error taxonomy. A 404 is a
// missing thread when the board itself exists, otherwise a missing board.
func (c *Client) classify(ctx context.Context, board, thread string, err error) *Error {
	if errors.Is(err, errStatusNotFound) {
		exists, berr := c.boardExists(ctx, board)
		if berr == nil && !exists {
			return &Error{Kind: KindBoardNotFound, Board: board, Thread: thread}
		}
		return &Error{Kind: KindThreadNotFound, Board: board, Thread: thread}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Board: board, Thread: thread, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Board: board, Thread: thread, Err: err}
	}

	if isTransport(err) {
		return &Error{Kind: KindUnreachable, Board: board, Thread: thread, Err: err}
	}
	return &Error{Kind: KindUnexpected, Board: board, Thread: thread, Err: err}
}

func isTransport(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// boardExists checks the board directory, caching the result for the
// configured TTL so background ticks do not hammer boards.json.
func (c *Client) boardExists(ctx context.Context, board string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.boards == nil || time.Since(c.boardsAsOf) > c.boardListTTL {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+"/boards.json", nil)
		if err != nil {
			return false, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "threadfeed/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return false, fmt.Errorf("fetch board list: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return false, fmt.Errorf("board list status: %d", resp.StatusCode)
		}

		var dir apiBoards
		if err := json.NewDecoder(resp.Body).Decode(&dir); err != nil {
			return false, fmt.Errorf("decode board list: %w", err)
		}

		boards := make(map[string]struct{}, len(dir.Boards))
		for _, b := range dir.Boards {
			boards[b.Board] = struct{}{}
		}
		c.boards = boards
		c.boardsAsOf = time.Now()
	}

	_, ok := c.boards[board]
	return ok, nil
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := c.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > c.maxBackoff {
		backoff = c.maxBackoff
	}
	return backoff
}

func (c *Client) transform(board, thread string, t *apiThread) (*domain.Snapshot, error) {
	if len(t.Posts) == 0 {
		return nil, errors.New("thread has no posts")
	}

	op := t.Posts[0]
	threadURL := fmt.Sprintf("%s/%s/thread/%d", c.boardsBaseURL, board, op.No)

	snap := &domain.Snapshot{
		Board:      board,
		Thread:     thread,
		Topic:      c.toPost(board, threadURL, op),
		Archived:   op.Archived == 1,
		Sticky:     op.Sticky == 1,
		BumpLimit:  op.BumpLimit == 1,
		ImageCount: op.Images,
	}

	for _, p := range t.Posts[1:] {
		snap.Replies = append(snap.Replies, c.toPost(board, threadURL, p))
	}

	snap.LastReplyID = snap.LatestReply().Number

	return snap, nil
}

func (c *Client) toPost(board, threadURL string, p apiPost) domain.Post {
	post := domain.Post{
		Number:     p.No,
		Timestamp:  time.Unix(p.Time, 0).UTC(),
		AuthorName: p.Name,
		AuthorHash: p.PosterID,
		Tripcode:   p.Trip,
		RawComment: p.Com,
		Comment:    cleanComment(p.Com),
		URL:        fmt.Sprintf("%s#p%d", threadURL, p.No),
	}

	if p.Tim != 0 && p.Ext != "" {
		post.MediaURL = fmt.Sprintf("%s/%s/%d%s", c.mediaBaseURL, board, p.Tim, p.Ext)
		post.ThumbnailURL = fmt.Sprintf("%s/%s/%ds.jpg", c.mediaBaseURL, board, p.Tim)
	}

	return post
}

var (
	lineBreakRe = regexp.MustCompile(`(?i)<br\s*/?>`)
	htmlTagRe   = regexp.MustCompile(`<[^>]*>`)
)

// cleanComment reduces comment HTML to plain text: line breaks become
// newlines, remaining tags are stripped, entities are unescaped so quote
// markers read literally as >>12345.
func cleanComment(s string) string {
	s = lineBreakRe.ReplaceAllString(s, "\n")
	s = htmlTagRe.ReplaceAllString(s, "")
	return html.UnescapeString(s)
}
