package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/DoyleJ11/lobby-sync/internal/engine"
	"github.com/DoyleJ11/lobby-sync/internal/hub"
	"github.com/DoyleJ11/lobby-sync/internal/lobby"
	"github.com/DoyleJ11/lobby-sync/internal/roster"
	"github.com/DoyleJ11/lobby-sync/internal/store"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	codeLength  = 6
	maxAttempts = 16
	viewTimeout = 2 * time.Second
)

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, codeLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

type lobbyView struct {
	ID              string              `json:"id"`
	Code            string              `json:"code"`
	Phase           engine.Phase        `json:"phase"`
	Closed          bool                `json:"closed"`
	Seq             uint64              `json:"seq"`
	Roster          []roster.SeatRecord `json:"roster"`
	Clients         int                 `json:"clients"`
	InLobbyScene    int                 `json:"inLobbyScene"`
	AllInLobbyScene bool                `json:"allInLobbyScene"`
}

func toView(v lobby.View) lobbyView {
	recs := v.Roster
	if recs == nil {
		recs = []roster.SeatRecord{}
	}
	return lobbyView{
		ID:              v.ID,
		Code:            v.Code,
		Phase:           v.Phase,
		Closed:          v.Closed,
		Seq:             v.Seq,
		Roster:          recs,
		Clients:         v.NumClients,
		InLobbyScene:    v.InLobbyScene,
		AllInLobbyScene: v.AllInLobbyScene,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func CreateLobby(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var code string
		for attempt := 0; code == ""; attempt++ {
			if attempt == maxAttempts {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			c, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			if h.Lookup(r.Context(), c) == nil {
				code = c
				break
			}
			log.Debug("collision on code, regenerating", zap.String("code", c))
		}

		reply := make(chan *lobby.Lobby, 1)
		h.Inbox() <- hub.EnsureLobby{Code: code, Reply: reply}
		if <-reply == nil {
			http.Error(w, "failed to create lobby", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, struct {
			Code string `json:"code"`
		}{Code: code})
	}
}

func GetLobby(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lb := h.Lookup(r.Context(), chi.URLParam(r, "code"))
		if lb == nil {
			http.Error(w, "lobby not found", http.StatusNotFound)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), viewTimeout)
		defer cancel()
		v, err := lb.View(ctx)
		if err != nil {
			http.Error(w, "lobby not available", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, toView(v))
	}
}

// CloseLobby is the operator close trigger. Closing an already closed lobby
// is accepted and does nothing.
func CloseLobby(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lb := h.Lookup(r.Context(), chi.URLParam(r, "code"))
		if lb == nil || !lb.Post(lobby.Close{}) {
			http.Error(w, "lobby not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// GetResults returns what the lobby persisted when it closed. A running
// lobby answers by its id; once retired, the newest results under the code.
func GetResults(h *hub.Hub, st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		var (
			res *engine.Results
			err error
		)
		if lb := h.Lookup(r.Context(), code); lb != nil {
			res, err = st.LoadResults(r.Context(), lb.ID())
		} else {
			res, err = st.LoadResultsByCode(r.Context(), code)
		}
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "lobby has no results yet", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "failed to load results", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func ListLobbies(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan []string, 1)
		h.Inbox() <- hub.ListLobbies{Reply: reply}
		writeJSON(w, http.StatusOK, struct {
			Codes []string `json:"codes"`
		}{Codes: <-reply})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
