package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/language"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/auth"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/services"
)

const defaultMaxBodySize int64 = 64 * 1024

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errEmptyBody
	}
	return data, nil
}

// decodeJSONBody reads a bounded JSON body into dst. Unknown fields are rejected.
func decodeJSONBody(r *http.Request, dst any, optional bool) error {
	data, err := readLimitedBody(r, defaultMaxBodySize)
	if err != nil {
		if optional && errors.Is(err, errEmptyBody) {
			return nil
		}
		return err
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeVersioned sets an ETag carrying the aggregate version so clients can echo it in If-Match.
func writeVersioned(w http.ResponseWriter, status int, version int64, payload any) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(version, 10)))
	writeJSONResponse(w, status, payload)
}

func pathParam(r *http.Request, name string) string {
	return strings.TrimSpace(chi.URLParam(r, name))
}

// actorFromRequest maps the authenticated caller onto a lifecycle actor.
func actorFromRequest(r *http.Request) (domain.Actor, bool) {
	ctx := r.Context()
	if identity, ok := auth.IdentityFromContext(ctx); ok && strings.TrimSpace(identity.UID) != "" {
		return identity.Actor(), true
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && strings.TrimSpace(svc.Subject) != "" {
		id := svc.Email
		if id == "" {
			id = svc.Subject
		}
		return domain.Actor{ID: id, Kind: domain.ActorSystem}, true
	}
	if sig, ok := auth.SignatureFromContext(ctx); ok && sig.Sender != "" {
		return domain.Actor{ID: sig.Sender, Kind: domain.ActorSystem}, true
	}
	return domain.Actor{}, false
}

// expectedVersion reads If-Match ("3", W/"3" or 3). A missing header yields fallback.
func expectedVersion(r *http.Request, fallback int64) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" || raw == "*" {
		return fallback, nil
	}
	raw = strings.TrimPrefix(raw, "W/")
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	}
	version, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || version <= 0 {
		return 0, fmt.Errorf("%w: If-Match must carry a positive version", services.ErrValidation)
	}
	return version, nil
}

// requestLocale prefers Accept-Language and falls back to the locale claim of the caller.
func requestLocale(r *http.Request) language.Tag {
	header := strings.TrimSpace(r.Header.Get("Accept-Language"))
	if header == "" {
		if identity, ok := auth.IdentityFromContext(r.Context()); ok {
			header = identity.Locale
		}
	}
	return services.MatchTimelineLocale(header)
}
