package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

var ErrInvalidPageToken = errors.New("invalid_page_token")

type Pagination struct {
	PageToken string `form:"page_token" json:"page_token"`
	PageSize  int    `form:"page_size" json:"page_size"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token,omitempty"`
	HasMore       bool   `json:"has_more"`
}

// Cursor points at the last row of the previous page; rows are ordered by
// created_at desc, id desc.
type Cursor struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

func EncodeCursor(c Cursor) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func DecodeCursor(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidPageToken
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, ErrInvalidPageToken
	}
	return &c, nil
}

// Normalize clamps the requested page size.
func (p Pagination) Normalize() Pagination {
	switch {
	case p.PageSize <= 0:
		p.PageSize = DefaultPageSize
	case p.PageSize > MaxPageSize:
		p.PageSize = MaxPageSize
	}
	return p
}

// Apply adds keyset filtering, ordering and a limit of PageSize+1 so the
// caller can detect a following page.
func (p Pagination) Apply(stmt *gorm.DB) (*gorm.DB, error) {
	p = p.Normalize()
	cursor, err := DecodeCursor(p.PageToken)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	return stmt.Order("created_at desc, id desc").Limit(p.PageSize + 1), nil
}

// BuildCursorPageInfo trims items to pageSize and returns the page info.
func BuildCursorPageInfo[T any](items []T, pageSize int, cursorOf func(T) Cursor) ([]T, PageInfo) {
	if len(items) <= pageSize {
		return items, PageInfo{}
	}
	items = items[:pageSize]
	token, err := EncodeCursor(cursorOf(items[len(items)-1]))
	if err != nil {
		return items, PageInfo{HasMore: true}
	}
	return items, PageInfo{NextPageToken: token, HasMore: true}
}
