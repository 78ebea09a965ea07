package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pliu/bizdir/internal/logging"
	"github.com/pliu/bizdir/internal/middleware"
	"github.com/pliu/bizdir/internal/models"
	"github.com/pliu/bizdir/internal/store"
)

type ChatHandler struct {
	Store store.Store
}

// GetThread returns the caller's conversation with receiverId about a
// business, oldest first.
func (h *ChatHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	vars := mux.Vars(r)
	h.remember(r, claims.Owner())

	messages, err := h.Store.GetThread(vars["businessId"], claims.UserID, vars["receiverId"])
	if err != nil {
		logging.FromContext(r.Context()).Error("loading thread failed", logging.Business(vars["businessId"]), logging.Err(err))
		middleware.WriteError(w, http.StatusInternalServerError, "Could not load messages")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, messages)
}

// GetChatHeads lists the latest message of each conversation the caller has
// about a business.
func (h *ChatHandler) GetChatHeads(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	businessID := mux.Vars(r)["businessId"]
	h.remember(r, claims.Owner())

	heads, err := h.Store.GetChatHeads(businessID, claims.UserID)
	if err != nil {
		logging.FromContext(r.Context()).Error("loading chat heads failed", logging.Business(businessID), logging.Err(err))
		middleware.WriteError(w, http.StatusInternalServerError, "Could not load chats")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, heads)
}

// remember records the caller's display name so chat heads can show it.
func (h *ChatHandler) remember(r *http.Request, who models.Owner) {
	if who.Username == "" && who.Email == "" {
		return
	}
	if err := h.Store.UpsertUser(who); err != nil {
		logging.FromContext(r.Context()).Warn("saving user failed", logging.UserID(who.ID), logging.Err(err))
	}
}
