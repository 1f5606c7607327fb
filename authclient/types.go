package authclient

import (
	"encoding/json"
	"time"
)

// envelope is the response wrapper used by every endpoint.
type envelope struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Error      *errorBody      `json:"error,omitempty"`
	Message    string          `json:"message,omitempty"`
	Pagination *Pagination     `json:"pagination,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Pagination describes a page of a list endpoint.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNextPage"`
}

// paginationWire covers both the feed shape (page, total) and the post
// list shape (currentPage, totalCount).
type paginationWire struct {
	Page        int   `json:"page"`
	CurrentPage int   `json:"currentPage"`
	Limit       int   `json:"limit"`
	Total       int   `json:"total"`
	TotalCount  int   `json:"totalCount"`
	TotalPages  int   `json:"totalPages"`
	HasNextPage *bool `json:"hasNextPage"`
}

func (p *Pagination) UnmarshalJSON(data []byte) error {
	var w paginationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*p = Pagination{
		Page:       max(w.Page, w.CurrentPage),
		Limit:      w.Limit,
		Total:      max(w.Total, w.TotalCount),
		TotalPages: w.TotalPages,
	}
	if w.HasNextPage != nil {
		p.HasNext = *w.HasNextPage
	} else {
		p.HasNext = p.Page < p.TotalPages
	}
	return nil
}

// User is the authenticated account. The backend answers in snake_case on
// some endpoints and camelCase on others; both decode.
type User struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	FirstName       string     `json:"firstName,omitempty"`
	LastName        string     `json:"lastName,omitempty"`
	Role            string     `json:"role"`
	Provider        string     `json:"provider"`
	IsEmailVerified bool       `json:"isEmailVerified"`
	IsActive        bool       `json:"isActive"`
	AvatarURL       string     `json:"avatarUrl,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastLoginAt     *time.Time `json:"lastLoginAt,omitempty"`
}

// userWire accepts either casing for each field.
type userWire struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`

	Provider string `json:"provider"`

	FirstName      *string `json:"first_name"`
	FirstNameCamel *string `json:"firstName"`
	LastName       *string `json:"last_name"`
	LastNameCamel  *string `json:"lastName"`
	AvatarURL      *string `json:"avatar_url"`
	AvatarURLCamel *string `json:"avatarUrl"`

	IsEmailVerified      *bool `json:"is_email_verified"`
	IsEmailVerifiedCamel *bool `json:"isEmailVerified"`
	IsActive             *bool `json:"is_active"`
	IsActiveCamel        *bool `json:"isActive"`

	CreatedAt        *time.Time `json:"created_at"`
	CreatedAtCamel   *time.Time `json:"createdAt"`
	LastLoginAt      *time.Time `json:"last_login_at"`
	LastLoginAtCamel *time.Time `json:"lastLoginAt"`
}

func (u *User) UnmarshalJSON(data []byte) error {
	var w userWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*u = User{
		ID:              w.ID,
		Email:           w.Email,
		Role:            w.Role,
		Provider:        w.Provider,
		FirstName:       deref(pick(w.FirstNameCamel, w.FirstName)),
		LastName:        deref(pick(w.LastNameCamel, w.LastName)),
		AvatarURL:       deref(pick(w.AvatarURLCamel, w.AvatarURL)),
		IsEmailVerified: deref(pick(w.IsEmailVerifiedCamel, w.IsEmailVerified)),
		IsActive:        deref(pick(w.IsActiveCamel, w.IsActive)),
		CreatedAt:       deref(pick(w.CreatedAtCamel, w.CreatedAt)),
		LastLoginAt:     pick(w.LastLoginAtCamel, w.LastLoginAt),
	}
	return nil
}

// DisplayName returns the full name, or the email when no name is set.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Email
	}
}

func pick[T any](camel, snake *T) *T {
	if camel != nil {
		return camel
	}
	return snake
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// Session is one active login of the current user.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	IPAddress      string    `json:"ip_address,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	DeviceInfo     string    `json:"device_info,omitempty"`
	LoginProvider  string    `json:"login_provider"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// MediaItem is one image or video of a post.
type MediaItem struct {
	URL          string `json:"url"`
	Type         string `json:"type"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// Post is a scraped post with its summary, if one has been generated.
type Post struct {
	ID              string      `json:"id"`
	ShortCode       string      `json:"short_code"`
	InputURL        string      `json:"input_url"`
	PostType        string      `json:"post_type"`
	Caption         string      `json:"caption"`
	MediaItems      []MediaItem `json:"media_items"`
	OwnerUsername   string      `json:"owner_username"`
	OwnerFullName   string      `json:"owner_full_name"`
	LikeCount       int         `json:"like_count"`
	CommentsCount   int         `json:"comments_count"`
	HasSummary      bool        `json:"has_summary"`
	SummaryStatus   string      `json:"summary_status"`
	CombinedSummary string      `json:"combined_summary,omitempty"`
	Timestamp       string      `json:"timestamp"`
	CreatedAt       time.Time   `json:"created_at"`
}

// FeedPage is one page of the essence feed or the post list.
type FeedPage struct {
	Posts      []Post
	Pagination Pagination
}
