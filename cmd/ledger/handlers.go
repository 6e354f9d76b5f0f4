package main

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sapliy/txrelay/internal/ledger"
	"github.com/sapliy/txrelay/pkg/jsonutil"
	"github.com/sapliy/txrelay/pkg/observability"
)

type LedgerHandler struct {
	svc    *ledger.Service
	logger *observability.Logger
}

func (h *LedgerHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req ledger.OpenAccountRequest
	if err := jsonutil.DecodeJSON(r, &req); err != nil {
		jsonutil.WriteErrorJSON(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	acc, err := h.svc.OpenAccount(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	jsonutil.WriteJSON(w, http.StatusCreated, acc)
}

func (h *LedgerHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.svc.GetAccount(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	jsonutil.WriteJSON(w, http.StatusOK, acc)
}

func (h *LedgerHandler) RenameAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := jsonutil.DecodeJSON(r, &req); err != nil {
		jsonutil.WriteErrorJSON(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	acc, err := h.svc.RenameAccount(r.Context(), mux.Vars(r)["id"], req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	jsonutil.WriteJSON(w, http.StatusOK, acc)
}

func (h *LedgerHandler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.svc.CloseAccount(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	jsonutil.WriteJSON(w, http.StatusOK, acc)
}

func (h *LedgerHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAccount):
		jsonutil.WriteErrorJSON(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrAccountNotFound):
		jsonutil.WriteErrorJSON(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, ledger.ErrAccountClosed):
		jsonutil.WriteErrorJSON(w, http.StatusConflict, "Account is closed")
	default:
		h.logger.WithContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		jsonutil.WriteErrorJSON(w, http.StatusInternalServerError, "Internal error")
	}
}

func setupRoutes(h *LedgerHandler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		jsonutil.WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "active",
			"service": "ledger",
		})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())

	r.HandleFunc("/accounts", h.CreateAccount).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}", h.GetAccount).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{id}", h.RenameAccount).Methods(http.MethodPatch)
	r.HandleFunc("/accounts/{id}", h.CloseAccount).Methods(http.MethodDelete)

	return r
}
