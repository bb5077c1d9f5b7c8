package main

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/docparse/ingest"
	"github.com/hazyhaar/docparse/parser"
	"github.com/hazyhaar/docparse/store"
)

func newRouter(cfg *Config, ing *ingest.Ingester, st *store.Store, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if cfg.Auth.PasswordBcrypt != "" {
			r.Use(basicAuth(cfg.Auth.User, cfg.Auth.PasswordBcrypt))
		}

		r.Post("/parse", handleParse(cfg, ing, logger))
		r.Post("/parse-url", handleParseURL(ing, logger))
		r.Get("/status/{processID}", handleStatus(ing))
		r.Post("/cancel/{processID}", handleCancel(ing))

		r.Get("/articles", handleListArticles(st))
		r.Get("/articles/{articleID}", handleGetArticle(st))
		r.Get("/articles/{articleID}/cover", handleGetCover(st))
		r.Delete("/articles/{articleID}", handleDeleteArticle(st))
	})

	return r
}

// basicAuth verifies Basic credentials against the configured bcrypt
// hash. The username comparison is constant time.
func basicAuth(user, passwordBcrypt string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
				bcrypt.CompareHashAndPassword([]byte(passwordBcrypt), []byte(p)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="docparsed"`)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// handleParse accepts a multipart upload (field "file") and starts a
// background parse. Responds 202 with the process id to poll.
func handleParse(cfg *Config, ing *ingest.Ingester, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxFileBytes())
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "multipart field 'file' required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}

		f := &parser.File{
			Name:    header.Filename,
			MIME:    header.Header.Get("Content-Type"),
			ModTime: time.Now(),
			Data:    data,
		}
		proc, err := ing.Submit(r.Context(), f)
		if err != nil {
			logger.Error("parse submit failed", "file", f.Name, "error", err)
			writeError(w, http.StatusInternalServerError, "submit failed")
			return
		}
		writeJSON(w, http.StatusAccepted, proc)
	}
}

// handleParseURL accepts {"url": "..."} and ingests the remote document.
func handleParseURL(ing *ingest.Ingester, logger *slog.Logger) http.HandlerFunc {
	type request struct {
		URL string `json:"url"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
			writeError(w, http.StatusBadRequest, "json body with 'url' required")
			return
		}
		proc, err := ing.SubmitURL(r.Context(), req.URL)
		if err != nil {
			logger.Warn("url submit failed", "url", req.URL, "error", err)
			writeError(w, http.StatusBadGateway, "fetch failed")
			return
		}
		writeJSON(w, http.StatusAccepted, proc)
	}
}

func handleStatus(ing *ingest.Ingester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		proc, ok := ing.Status(chi.URLParam(r, "processID"))
		if !ok {
			writeError(w, http.StatusNotFound, "unknown process")
			return
		}
		writeJSON(w, http.StatusOK, proc)
	}
}

func handleCancel(ing *ingest.Ingester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "processID")
		if _, ok := ing.Status(id); !ok {
			writeError(w, http.StatusNotFound, "unknown process")
			return
		}
		ing.Cancel(id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
	}
}

func handleListArticles(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := st.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list failed")
			return
		}
		if list == nil {
			list = []*store.Article{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleGetArticle(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := st.Get(r.Context(), chi.URLParam(r, "articleID"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "get failed")
			return
		}
		if a == nil {
			writeError(w, http.StatusNotFound, "unknown article")
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func handleGetCover(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, typ, err := st.Cover(r.Context(), chi.URLParam(r, "articleID"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "cover failed")
			return
		}
		if len(data) == 0 {
			writeError(w, http.StatusNotFound, "no cover")
			return
		}
		if typ == "" {
			typ = "application/octet-stream"
		}
		w.Header().Set("Content-Type", typ)
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

func handleDeleteArticle(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "articleID")
		a, err := st.Get(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "get failed")
			return
		}
		if a == nil {
			writeError(w, http.StatusNotFound, "unknown article")
			return
		}
		if err := st.Delete(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, "delete failed")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
