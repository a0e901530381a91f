package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/gaspardpetit/uigen/internal/apierror"
	"github.com/gaspardpetit/uigen/internal/preview"
)

type previewRequest struct {
	Code string `json:"code"`
}

// PreviewHandler handles POST /api/preview and returns the harness JSON.
func PreviewHandler(maxCode int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req previewRequest
		body := io.Reader(r.Body)
		if maxCode > 0 {
			// The body limit leaves room for JSON escaping of a maximal payload.
			body = io.LimitReader(r.Body, int64(maxCode)*6+1024)
		}
		if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			apierror.WriteJSON(w, apierror.Wrap(apierror.InvalidRequest, "Invalid request body", err))
			return
		}
		if maxCode > 0 && utf8.RuneCountInString(req.Code) > maxCode {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Code is too long"})
			return
		}
		h, err := preview.Wrap(req.Code)
		if errors.Is(err, preview.ErrEmptyCode) {
			apierror.WriteJSON(w, apierror.New(apierror.InvalidRequest, "Code is required"))
			return
		}
		if err != nil {
			apierror.WriteJSON(w, apierror.Wrap(apierror.Internal, "Failed to build preview", err))
			return
		}
		writeJSON(w, http.StatusOK, h)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
