package handlers

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/nimasrn/loyalty-engine/internal/model"
	"github.com/nimasrn/loyalty-engine/internal/services"
	xhttp "github.com/nimasrn/loyalty-engine/pkg/http"
	"github.com/nimasrn/loyalty-engine/pkg/logger"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// errorKinds is checked in order; the first match decides the response.
var errorKinds = []struct {
	err    error
	status int
	code   string
}{
	{services.ErrRequestInFlight, xhttp.StatusConflict, "request_in_flight"},
	{services.ErrDuplicateResponse, xhttp.StatusConflict, "duplicate_response"},
	{services.ErrConflict, xhttp.StatusConflict, "conflict"},
	{services.ErrNotFound, xhttp.StatusNotFound, "not_found"},
	{services.ErrInsufficientBalance, xhttp.StatusUnprocessableEntity, "insufficient_balance"},
	{services.ErrInvalidRating, xhttp.StatusUnprocessableEntity, "invalid_rating"},
	{services.ErrClientBlocked, xhttp.StatusUnprocessableEntity, "client_blocked"},
	{services.ErrPartnerNotApproved, xhttp.StatusUnprocessableEntity, "partner_not_approved"},
	{services.ErrInvalidArgument, xhttp.StatusBadRequest, "invalid_argument"},
	{services.ErrStorageUnavailable, xhttp.StatusServiceUnavailable, "storage_unavailable"},
}

// ErrorStatus maps a service error to its HTTP status and stable code.
func ErrorStatus(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.status, k.code
		}
	}
	return xhttp.StatusInternalServerError, "internal"
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Error("failed to encode response", "error", err)
		ctx.Error(xhttp.StatusText(xhttp.StatusInternalServerError), xhttp.StatusInternalServerError)
		return
	}
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeBadRequest(ctx *xhttp.RequestCtx, msg string) {
	writeJSON(ctx, xhttp.StatusBadRequest, errorResponse{Error: msg, Code: "invalid_argument", RequestID: xhttp.RequestID(ctx)})
}

// writeError renders a service error. Untyped errors are logged and hidden
// behind a 500.
func writeError(ctx *xhttp.RequestCtx, err error) {
	status, code := ErrorStatus(err)
	msg := err.Error()
	if status >= xhttp.StatusInternalServerError {
		logger.Error("request failed", "path", string(ctx.Path()), "request_id", xhttp.RequestID(ctx), "error", err)
		if code == "internal" {
			msg = xhttp.StatusText(status)
		}
	}
	writeJSON(ctx, status, errorResponse{Error: msg, Code: code, RequestID: xhttp.RequestID(ctx)})
}

// requireIdempotencyKey writes a 400 and returns false when the header is
// missing.
func requireIdempotencyKey(ctx *xhttp.RequestCtx) (string, bool) {
	key := xhttp.IdempotencyKey(ctx)
	if key == "" {
		writeBadRequest(ctx, xhttp.HeaderIdempotencyKey+" header is required")
		return "", false
	}
	return key, true
}

func pathParam(ctx *xhttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func queryInt(ctx *xhttp.RequestCtx, key string) (int, error) {
	v := query(ctx, key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func queryTime(ctx *xhttp.RequestCtx, key string) (*time.Time, error) {
	v := query(ctx, key)
	if v == "" {
		return nil, nil
	}
	t, err := model.ParseTimestamp(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
