package mockapi

import (
	"cmp"
	"maps"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// samplePosts is the fixed feed served to every user.
var samplePosts = []map[string]any{
	{"short_code": "C1a2B3", "post_type": "IMAGE", "owner_username": "trailmix", "caption": "Ridge line at dawn", "combined_summary": "A sunrise hike along an exposed ridge with gear tips."},
	{"short_code": "D4e5F6", "post_type": "REEL", "owner_username": "kitchenlab", "caption": "60 second ramen", "combined_summary": "Quick broth technique using pantry staples."},
	{"short_code": "G7h8I9", "post_type": "CAROUSEL", "owner_username": "deskhacks", "caption": "Cable management", "combined_summary": "Five steps to route cables under a standing desk."},
	{"short_code": "J1k2L3", "post_type": "VIDEO", "owner_username": "cityframes", "caption": "Night trams", "combined_summary": "Long exposure footage of trams crossing the old town."},
	{"short_code": "M4n5O6", "post_type": "IMAGE", "owner_username": "plantdoc", "caption": "Yellow leaves?", "combined_summary": "Diagnosing overwatering versus nutrient deficiency."},
}

var instagramPath = regexp.MustCompile(`^/(p|reel|tv)/([A-Za-z0-9_-]+)/?$`)

var postTypes = map[string]string{"p": "IMAGE", "reel": "REEL", "tv": "VIDEO"}

// allPosts returns scraped and sample posts, newest first.
func (s *Server) allPosts() []map[string]any {
	s.mu.Lock()
	out := make([]map[string]any, 0, len(s.scraped)+len(samplePosts))
	for i := len(s.scraped) - 1; i >= 0; i-- {
		out = append(out, maps.Clone(s.scraped[i]))
	}
	s.mu.Unlock()

	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := len(samplePosts) - 1; i >= 0; i-- {
		p := samplePosts[i]
		code := p["short_code"].(string)
		post := map[string]any{
			"id":             "post-" + code,
			"input_url":      "https://www.instagram.com/p/" + code + "/",
			"has_summary":    true,
			"summary_status": "COMPLETED",
			"like_count":     100 * (i + 1),
			"comments_count": 7 * (i + 1),
			"media_items":    []any{},
			"created_at":     created.Add(time.Duration(i) * time.Hour),
		}
		maps.Copy(post, p)
		out = append(out, post)
	}
	return out
}

func pageParams(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	return page, limit
}

func pageOf(posts []map[string]any, page, limit int) []map[string]any {
	start := min((page-1)*limit, len(posts))
	end := min(start+limit, len(posts))
	return posts[start:end]
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)

	var summarized []map[string]any
	for _, p := range s.allPosts() {
		if p["has_summary"] == true {
			summarized = append(summarized, p)
		}
	}
	total := len(summarized)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    pageOf(summarized, page, limit),
		"pagination": map[string]any{
			"page":       page,
			"limit":      limit,
			"total":      total,
			"totalPages": (total + limit - 1) / limit,
		},
	})
}

// handlePosts lists every post with the filters the post browser offers.
func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit := pageParams(r)

	filters := map[string]string{}
	for _, key := range []string{"post_type", "owner_username", "summary_status", "has_summary", "search"} {
		if v := q.Get(key); v != "" {
			filters[key] = v
		}
	}
	match := func(p map[string]any) bool {
		for key, want := range filters {
			switch key {
			case "has_summary":
				if strconv.FormatBool(p["has_summary"] == true) != want {
					return false
				}
			case "search":
				if !strings.Contains(strings.ToLower(asString(p["caption"])), strings.ToLower(want)) {
					return false
				}
			default:
				if !strings.EqualFold(asString(p[key]), want) {
					return false
				}
			}
		}
		return true
	}

	var posts []map[string]any
	for _, p := range s.allPosts() {
		if match(p) {
			posts = append(posts, p)
		}
	}

	sortBy := q.Get("sortBy")
	desc := q.Get("sortOrder") != "asc"
	slices.SortStableFunc(posts, func(a, b map[string]any) int {
		c := cmp.Compare(sortKey(a, sortBy), sortKey(b, sortBy))
		if desc {
			return -c
		}
		return c
	})

	total := len(posts)
	totalPages := (total + limit - 1) / limit
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    pageOf(posts, page, limit),
		"pagination": map[string]any{
			"currentPage": page,
			"totalPages":  totalPages,
			"totalCount":  total,
			"limit":       limit,
			"hasNextPage": page < totalPages,
			"hasPrevPage": page > 1,
		},
		"filters": filters,
	})
}

func sortKey(p map[string]any, by string) int64 {
	switch by {
	case "like_count", "comments_count":
		n, _ := p[by].(int)
		return int64(n)
	default:
		t, _ := p["created_at"].(time.Time)
		return t.UnixNano()
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	u, err := url.Parse(strings.TrimSpace(req.URL))
	var m []string
	if err == nil && (u.Host == "instagram.com" || u.Host == "www.instagram.com") {
		m = instagramPath.FindStringSubmatch(u.Path)
	}
	if m == nil {
		writeError(w, http.StatusBadRequest, "INVALID_URL", "not an Instagram post URL")
		return
	}
	kind, code := m[1], m[2]

	for _, p := range s.allPosts() {
		if p["short_code"] == code {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Post already scraped", "data": p})
			return
		}
	}

	post := map[string]any{
		"id":             uuid.NewString(),
		"short_code":     code,
		"input_url":      "https://www.instagram.com/" + kind + "/" + code + "/",
		"post_type":      postTypes[kind],
		"caption":        "",
		"owner_username": "",
		"has_summary":    false,
		"summary_status": "GENERATING",
		"like_count":     0,
		"comments_count": 0,
		"media_items":    []any{},
		"created_at":     time.Now().UTC(),
	}
	s.mu.Lock()
	s.scraped = append(s.scraped, post)
	s.mu.Unlock()

	s.logger.Info("mock scrape", "short_code", code, "user_id", sessionFrom(r).UserID)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "message": "Post scraped", "data": post})
}
