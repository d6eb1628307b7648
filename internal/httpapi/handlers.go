package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"flowair/internal/chat"
	"flowair/internal/ledger"
	"flowair/internal/providers"
)

const creditsExhaustedMsg = "Usage limit exceeded. Please upgrade to continue using AI bots."

type errorBody struct {
	Error         string `json:"error"`
	LimitExceeded bool   `json:"limitExceeded,omitempty"`
}

type botView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Category string `json:"category"`
}

type usageView struct {
	Total       int64  `json:"total"`
	Today       int64  `json:"today"`
	ThisMonth   int64  `json:"thisMonth"`
	FavoriteBot string `json:"favoriteBot,omitempty"`
}

type accountView struct {
	UserID           string    `json:"userId"`
	CreditsRemaining int64     `json:"creditsRemaining"`
	SubscriptionTier string    `json:"subscriptionTier"`
	Usage            usageView `json:"usage"`
}

type grantRequest struct {
	Credits *int64 `json:"credits"`
	Tier    string `json:"tier"`
}

func (a *API) postChat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")

	resp, err := a.chat.Handle(r.Context(), req)
	if err != nil {
		writeChatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) listBots(w http.ResponseWriter, _ *http.Request) {
	list := a.bots.List()
	out := make([]botView, 0, len(list))
	for _, b := range list {
		out = append(out, botView{ID: b.ID, Name: b.Name, Provider: string(b.Provider), Category: b.Category})
	}
	writeJSON(w, http.StatusOK, map[string]any{"bots": out})
}

func (a *API) getCredits(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userId"))
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "userId is required"})
		return
	}
	acc, err := a.accounts.Account(r.Context(), userID)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("user_id", userID).Msg("failed to load account")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, toAccountView(acc))
}

func (a *API) grantCredits(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userId"))
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "userId is required"})
		return
	}
	var req grantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if req.Credits == nil || *req.Credits < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "credits must be a non-negative integer"})
		return
	}

	acc, err := a.accounts.Grant(r.Context(), userID, *req.Credits, req.Tier)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("user_id", userID).Msg("failed to grant credits")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, toAccountView(acc))
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		if err := a.ready(r.Context()); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeChatError is the only place chat errors become HTTP responses.
func writeChatError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *chat.ValidationError
		rl *chat.RateLimitError
		ue *providers.UpstreamError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Error()})
	case errors.Is(err, ledger.ErrCreditsExhausted):
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: creditsExhaustedMsg, LimitExceeded: true})
	case errors.As(err, &rl):
		secs := int(math.Ceil(time.Until(rl.ResetAt).Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: rl.Error()})
	case errors.Is(err, chat.ErrDuplicateRequest):
		writeJSON(w, http.StatusConflict, errorBody{Error: "duplicate request"})
	case errors.As(err, &ue):
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: ue.Error()})
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("chat request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func toAccountView(acc ledger.Account) accountView {
	return accountView{
		UserID:           acc.UserID,
		CreditsRemaining: acc.CreditsRemaining,
		SubscriptionTier: acc.SubscriptionTier,
		Usage: usageView{
			Total:       acc.Usage.Total,
			Today:       acc.Usage.Today,
			ThisMonth:   acc.Usage.ThisMonth,
			FavoriteBot: acc.Usage.FavoriteBot,
		},
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
