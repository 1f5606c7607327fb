package authclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// PostsQuery filters and orders the post list. Zero values are omitted.
type PostsQuery struct {
	Page          int
	Limit         int
	SortBy        string
	SortOrder     string
	PostType      string
	OwnerUsername string
	SummaryStatus string
	Search        string
	HasSummary    *bool
}

func (q PostsQuery) values() url.Values {
	v := url.Values{}
	set := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	set("sortBy", q.SortBy)
	set("sortOrder", q.SortOrder)
	set("post_type", q.PostType)
	set("owner_username", q.OwnerUsername)
	set("summary_status", q.SummaryStatus)
	set("search", q.Search)
	if q.HasSummary != nil {
		v.Set("has_summary", strconv.FormatBool(*q.HasSummary))
	}
	return v
}

// Posts lists scraped posts, summarized or not.
func (c *Client) Posts(ctx context.Context, q PostsQuery) (*FeedPage, error) {
	path := "/v1/posts"
	if enc := q.values().Encode(); enc != "" {
		path += "?" + enc
	}
	var posts []Post
	env, err := c.getJSON(ctx, path, &posts)
	if err != nil {
		return nil, err
	}
	out := &FeedPage{Posts: posts}
	if env.Pagination != nil {
		out.Pagination = *env.Pagination
	}
	return out, nil
}

// Scrape submits a post URL for scraping and summarizing. The returned
// post usually has no summary yet.
func (c *Client) Scrape(ctx context.Context, postURL string) (*Post, error) {
	if postURL == "" {
		return nil, errors.New("post URL is required")
	}
	var post Post
	if _, err := c.postJSON(ctx, "/v1/posts/scrape", map[string]string{"url": postURL}, &post); err != nil {
		return nil, fmt.Errorf("scrape failed: %w", err)
	}
	c.logger.Info("post submitted", "short_code", post.ShortCode, "summary_status", post.SummaryStatus)
	return &post, nil
}
