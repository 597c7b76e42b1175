package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threadfeed/internal/domain"
	"threadfeed/internal/service"
)

type fakeFeeds struct {
	records map[string][]domain.NamedRecord
}

func (f *fakeFeeds) ListFeeds(ctx context.Context, destinationID string) ([]domain.NamedRecord, error) {
	return f.records[destinationID], nil
}

func (f *fakeFeeds) FeedStats(ctx context.Context, destinationID, name string) (*domain.FeedRecord, error) {
	for _, rec := range f.records[destinationID] {
		if rec.Name == name {
			r := rec.Record
			return &r, nil
		}
	}
	return nil, service.ErrFeedNotFound
}

func newTestServer(feeds Feeds) *httptest.Server {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	srv := New(":0", feeds, logger)
	return httptest.NewServer(srv.http.Handler)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(&fakeFeeds{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestListFeeds(t *testing.T) {
	feeds := &fakeFeeds{records: map[string][]domain.NamedRecord{
		"dest-1": {
			{
				Name: "feed-a",
				Record: domain.FeedRecord{
					URL:        "https://boards.4chan.org/g/thread/100",
					LastPostID: 105,
					ReplyCount: 4,
				},
			},
		},
	}}
	ts := newTestServer(feeds)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/destinations/dest-1/feeds")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Feeds []struct {
			Name          string `json:"name"`
			URL           string `json:"url"`
			LastPostID    int64  `json:"last_post_id"`
			EmbedOverride string `json:"embed_override"`
		} `json:"feeds"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Feeds, 1)
	assert.Equal(t, "feed-a", body.Feeds[0].Name)
	assert.Equal(t, int64(105), body.Feeds[0].LastPostID)
	assert.Equal(t, "inherit", body.Feeds[0].EmbedOverride)
}

func TestListFeeds_EmptyDestination(t *testing.T) {
	ts := newTestServer(&fakeFeeds{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/destinations/nobody/feeds")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Feeds []json.RawMessage `json:"feeds"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Empty(t, body.Feeds)
}

func TestFeedStats(t *testing.T) {
	delivered := time.Date(2024, 3, 9, 18, 30, 5, 0, time.UTC)
	feeds := &fakeFeeds{records: map[string][]domain.NamedRecord{
		"dest-1": {
			{
				Name: "feed-a",
				Record: domain.FeedRecord{
					URL:           "https://boards.4chan.org/g/thread/100",
					LastPostID:    105,
					ReplyCount:    4,
					ImageCount:    2,
					LastDelivered: delivered,
					IsSticky:      true,
				},
			},
		},
	}}
	ts := newTestServer(feeds)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/destinations/dest-1/feeds/feed-a")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "feed-a", body["name"])
	assert.Equal(t, float64(105), body["last_post_id"])
	assert.Equal(t, true, body["is_sticky"])
}

func TestFeedStats_NotFound(t *testing.T) {
	ts := newTestServer(&fakeFeeds{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/destinations/dest-1/feeds/nope")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
