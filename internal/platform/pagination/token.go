package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
)

// Cursor is the keyset position serialised into page tokens.
type Cursor struct {
	StartAfter []any `json:"startAfter,omitempty"`
}

// EncodeToken serialises the provided cursor into a base64 URL-safe page token.
func EncodeToken(cursor Cursor) (string, error) {
	if len(cursor.StartAfter) == 0 {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses the page token produced by EncodeToken back into a cursor.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}

// ReturnKey orders the return queue oldest first, ties broken by id.
type ReturnKey struct {
	CreatedAt time.Time
	ID        string
}

// ReturnKeyOf extracts the queue key of ret.
func ReturnKeyOf(ret domain.ReturnRequest) ReturnKey {
	return ReturnKey{CreatedAt: ret.CreatedAt.UTC(), ID: ret.ID}
}

// Compare orders keys by creation time then id.
func (k ReturnKey) Compare(other ReturnKey) int {
	if c := k.CreatedAt.Compare(other.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(k.ID, other.ID)
}

// Token encodes the key as a page token.
func (k ReturnKey) Token() (string, error) {
	return EncodeToken(Cursor{StartAfter: []any{k.CreatedAt.Format(time.RFC3339Nano), k.ID}})
}

// ReturnKeyFromToken decodes a page token. ok is false for an empty token.
func ReturnKeyFromToken(token string) (key ReturnKey, ok bool, err error) {
	cursor, err := DecodeToken(token)
	if err != nil {
		return ReturnKey{}, false, err
	}
	if len(cursor.StartAfter) == 0 {
		return ReturnKey{}, false, nil
	}
	if len(cursor.StartAfter) != 2 {
		return ReturnKey{}, false, fmt.Errorf("%w: unexpected cursor shape", ErrInvalidPageToken)
	}
	rawTime, okTime := cursor.StartAfter[0].(string)
	id, okID := cursor.StartAfter[1].(string)
	if !okTime || !okID || id == "" {
		return ReturnKey{}, false, fmt.Errorf("%w: unexpected cursor values", ErrInvalidPageToken)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return ReturnKey{}, false, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return ReturnKey{CreatedAt: createdAt.UTC(), ID: id}, true, nil
}
