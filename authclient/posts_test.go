package authclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectrity/essence-cli/mockapi"
)

func TestPostsQuery_Values(t *testing.T) {
	yes := true
	q := PostsQuery{Page: 2, Limit: 5, PostType: "REEL", Search: "ramen", HasSummary: &yes}
	assert.Equal(t, "has_summary=true&limit=5&page=2&post_type=REEL&search=ramen", q.values().Encode())
	assert.Empty(t, PostsQuery{}.values().Encode())
}

func TestClient_ScrapeReplaysBodyAfterExpiry(t *testing.T) {
	for _, mode := range []Mode{ModeClient, ModeCookie} {
		t.Run(string(mode), func(t *testing.T) {
			api, srv := newMockBackend(t, mockapi.Options{Cookie: mode == ModeCookie})
			c := newTestClient(t, srv, mode, "/scrape")
			ctx := context.Background()

			_, err := c.Login(ctx, "ada@example.com", "pw", false)
			require.NoError(t, err)
			api.ExpireAccessTokens()

			post, err := c.Scrape(ctx, "https://www.instagram.com/p/Abc123/")
			require.NoError(t, err)
			assert.Equal(t, "Abc123", post.ShortCode)
			assert.Equal(t, "IMAGE", post.PostType)
			assert.False(t, post.HasSummary)
			assert.Equal(t, 1, api.RefreshCalls())
			assert.Empty(t, c.nav.Locations())
		})
	}
}

func TestClient_ScrapeInvalidURL(t *testing.T) {
	_, srv := newMockBackend(t, mockapi.Options{})
	c := newTestClient(t, srv, ModeClient, "/scrape")
	ctx := context.Background()

	_, err := c.Login(ctx, "ada@example.com", "pw", false)
	require.NoError(t, err)

	_, err = c.Scrape(ctx, "https://example.com/p/Abc123/")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "INVALID_URL", apiErr.Code)
	assert.True(t, c.store.HasTokens())
}

func TestClient_Posts(t *testing.T) {
	_, srv := newMockBackend(t, mockapi.Options{})
	c := newTestClient(t, srv, ModeClient, "/posts")
	ctx := context.Background()

	_, err := c.Login(ctx, "ada@example.com", "pw", false)
	require.NoError(t, err)
	_, err = c.Scrape(ctx, "https://www.instagram.com/reel/New999/")
	require.NoError(t, err)

	page, err := c.Posts(ctx, PostsQuery{Limit: 4})
	require.NoError(t, err)
	require.Len(t, page.Posts, 4)
	assert.Equal(t, "New999", page.Posts[0].ShortCode)
	assert.Equal(t, 1, page.Pagination.Page)
	assert.Equal(t, 6, page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.TotalPages)
	assert.True(t, page.Pagination.HasNext)

	no := false
	page, err = c.Posts(ctx, PostsQuery{HasSummary: &no})
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, "GENERATING", page.Posts[0].SummaryStatus)

	feed, err := c.EssenceFeed(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, feed.Posts, 5, "the feed only lists summarized posts")
	assert.False(t, feed.Pagination.HasNext)
}
