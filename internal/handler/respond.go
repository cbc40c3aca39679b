package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dukerupert/kidquest/internal/auth"
	"github.com/dukerupert/kidquest/internal/model"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

var errorStatus = []struct {
	err    error
	status int
}{
	{model.ErrStoreUnavailable, http.StatusServiceUnavailable},
	{model.ErrNotFound, http.StatusNotFound},
	{model.ErrRoomFull, http.StatusConflict},
	{model.ErrChallengeInProgress, http.StatusConflict},
	{model.ErrInvalidTransition, http.StatusConflict},
	{model.ErrOpponentMissing, http.StatusConflict},
	{model.ErrRoomClosed, http.StatusConflict},
	{model.ErrNoChallenge, http.StatusConflict},
	{model.ErrConflict, http.StatusConflict},
	{model.ErrEmailTaken, http.StatusConflict},
	{model.ErrUnauthorized, http.StatusForbidden},
	{model.ErrInvalidChallenger, http.StatusBadRequest},
	{model.ErrInvalidWinner, http.StatusBadRequest},
	{model.ErrUnknownTask, http.StatusBadRequest},
	{model.ErrInvalidMessage, http.StatusBadRequest},
	{model.ErrSelfFriend, http.StatusBadRequest},
	{model.ErrInvalidProfile, http.StatusBadRequest},
	{model.ErrInvalidInput, http.StatusBadRequest},
	{model.ErrInvalidCredentials, http.StatusUnauthorized},
	{auth.ErrInvalidToken, http.StatusUnauthorized},
}

// statusFor maps an error onto the HTTP status it is reported with.
func statusFor(err error) int {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

// writeError reports err to the client. Client errors carry their message;
// server errors are logged and answered with a generic one.
func writeError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	switch {
	case status == http.StatusServiceUnavailable:
		logger.Error(op, "error", err)
		writeJSON(w, status, map[string]string{"error": "service temporarily unavailable, try again"})
	case status >= 500:
		logger.Error(op, "error", err)
		writeJSON(w, status, map[string]string{"error": "internal error"})
	default:
		logger.Debug(op, "status", status, "error", err)
		writeJSON(w, status, map[string]string{"error": err.Error()})
	}
}

// decodeJSON reads the request body into v. An empty body leaves v as is.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON: %w", model.ErrInvalidInput)
	}
	return nil
}

// expectedVersion reads the If-Match header as a room version. A missing
// header or "*" means any version.
func expectedVersion(r *http.Request) (int64, error) {
	v := strings.TrimSpace(r.Header.Get("If-Match"))
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, `"`)
	if v == "" || v == "*" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("If-Match must be a room version: %w", model.ErrInvalidInput)
	}
	return n, nil
}

func setETag(w http.ResponseWriter, version int64) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(version, 10)))
}
