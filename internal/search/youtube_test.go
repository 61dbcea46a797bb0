package search_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vijayakanth06/watchtogether-vk/internal/domain"
	"github.com/vijayakanth06/watchtogether-vk/internal/search"
)

func TestClient_EmptyQueryRejectedLocally(t *testing.T) {
	// 空白查询不应发起任何网络请求
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := search.NewClient("test-key", nil)
	c.SetBaseURL(srv.URL)

	_, err := c.Search(context.Background(), "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)
	assert.False(t, called, "空白查询不得发起网络请求")
}

func TestClient_SearchMapsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "lofi beats", r.URL.Query().Get("q"))
		assert.Equal(t, "video", r.URL.Query().Get("type"))
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"items": [
				{
					"id": {"videoId": "dQw4w9WgXcQ"},
					"snippet": {
						"title": "Some video",
						"channelTitle": "Some channel",
						"thumbnails": {"medium": {"url": "https://example.com/m.jpg"}}
					}
				}
			]
		}`))
	}))
	defer srv.Close()

	c := search.NewClient("test-key", nil)
	c.SetBaseURL(srv.URL)

	results, err := c.Search(context.Background(), "lofi beats")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.VideoResult{
		VideoID:   "dQw4w9WgXcQ",
		Title:     "Some video",
		Thumbnail: "https://example.com/m.jpg",
		Channel:   "Some channel",
	}, results[0])
}

func TestClient_NonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := search.NewClient("bad-key", nil)
	c.SetBaseURL(srv.URL)

	_, err := c.Search(context.Background(), "anything")
	assert.Error(t, err)
}
