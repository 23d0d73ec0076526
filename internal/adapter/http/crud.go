package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/devsync/internal/domain"
)

// listJSON serves the result of list as a JSON array, never null.
func listJSON[T any](list func(context.Context) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := list(r.Context())
		if err != nil {
			writeInternalError(w, r, err)
			return
		}
		if items == nil {
			items = []T{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

// getByID parses the {id} URL parameter as a positive integer key and serves
// the result of get.
func getByID[T any](get func(context.Context, int64) (*T, error), notFound string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "id")
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeDomainError(w, r, fmt.Errorf("%w: invalid id %q", domain.ErrValidation, raw), notFound)
			return
		}
		item, err := get(r.Context(), id)
		if err != nil {
			writeDomainError(w, r, err, notFound)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

// putJSON decodes Req from the body, applies put and answers with its result.
func putJSON[Req, Res any](limit int64, put func(context.Context, *Req) (*Res, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := readJSON[Req](w, r, limit)
		if !ok {
			return
		}
		res, err := put(r.Context(), &req)
		if err != nil {
			writeDomainError(w, r, err, "not found")
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// deleteJSON removes the resource named in the body and answers 204. Used
// where the key must stay out of URLs and access logs.
func deleteJSON[Req any](limit int64, del func(context.Context, *Req) error, notFound string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := readJSON[Req](w, r, limit)
		if !ok {
			return
		}
		if err := del(r.Context(), &req); err != nil {
			writeDomainError(w, r, err, notFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
