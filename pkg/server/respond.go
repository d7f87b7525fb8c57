package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lightearth/lightearth-proxy/pkg/log"
)

// serveCached writes the JSON document built by build, serving it from the
// response cache when possible. build reports whether the document is a
// successful one; failures are never cached so the next poll retries the
// upstream. live marks documents whose period includes now.
func (s *Server) serveCached(w http.ResponseWriter, r *http.Request, key string, live bool, build func(ctx context.Context) (any, bool)) {
	ctx := r.Context()
	maxAge := s.maxAge(live)

	if s.responses != nil {
		if e, ok := s.responses.Get(key); ok {
			w.Header().Set("Content-Type", e.ContentType)
			w.Header().Set("Cache-Control", cacheControl(maxAge))
			w.Header().Set("X-Cache", "HIT")
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write(e.Body); err != nil {
				panic(http.ErrAbortHandler)
			}
			return
		}
	}

	doc, ok := build(ctx)
	body, err := json.Marshal(doc)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to encode response", slog.Any("error", err))
		writeJSONError(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	body = append(body, '\n')

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "MISS")
	if ok {
		if s.responses != nil {
			s.responses.Set(key, body, "application/json", maxAge)
		}
		w.Header().Set("Cache-Control", cacheControl(maxAge))
	} else {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) maxAge(live bool) time.Duration {
	if live {
		return s.todayTTL
	}
	return s.pastTTL
}

func cacheControl(maxAge time.Duration) string {
	return fmt.Sprintf("public, max-age=%d", int(maxAge.Seconds()))
}
