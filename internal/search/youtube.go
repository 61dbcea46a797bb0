// Package search 提供视频元数据搜索。只负责把查询词换成候选列表，
// 返回的结果在入队前仍要经过领域校验。
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vijayakanth06/watchtogether-vk/internal/domain"
)

const defaultBaseURL = "https://www.googleapis.com/youtube/v3"

// maxResults 每次搜索返回的候选数上限。
const maxResults = 5

// Client 是 YouTube Data API 的搜索客户端。
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *logrus.Entry
}

// NewClient 创建搜索客户端。
func NewClient(apiKey string, logger *logrus.Logger) *Client {
	if apiKey == "" {
		panic("API key cannot be empty for search Client")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        logger.WithField("component", "video_search"),
	}
}

// SetBaseURL 覆盖 API 地址（测试替身用）。
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

// searchResponse 只取需要的字段。
type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
			Thumbnails   struct {
				Medium struct {
					URL string `json:"url"`
				} `json:"medium"`
				Default struct {
					URL string `json:"url"`
				} `json:"default"`
			} `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

// Search 按查询词搜索视频。空白查询在本地拒绝，不发起网络请求。
func (c *Client) Search(ctx context.Context, query string) ([]domain.VideoResult, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, domain.ErrEmptyQuery
	}

	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("type", "video")
	params.Set("maxResults", fmt.Sprintf("%d", maxResults))
	params.Set("q", q)
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.WithField("status", resp.StatusCode).Warn("Search API returned non-success status")
		return nil, fmt.Errorf("search API returned status %d", resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]domain.VideoResult, 0, len(body.Items))
	for _, item := range body.Items {
		thumb := item.Snippet.Thumbnails.Medium.URL
		if thumb == "" {
			thumb = item.Snippet.Thumbnails.Default.URL
		}
		results = append(results, domain.VideoResult{
			VideoID:   item.ID.VideoID,
			Title:     item.Snippet.Title,
			Thumbnail: thumb,
			Channel:   item.Snippet.ChannelTitle,
		})
	}
	return results, nil
}
