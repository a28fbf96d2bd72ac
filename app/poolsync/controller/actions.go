package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stream-pools/poolsync/pkg/action"
	"github.com/stream-pools/poolsync/pkg/ledger"
)

// HandleAction submits one mutating request and answers once it is mined.
func (c *Controller) HandleAction(w http.ResponseWriter, r *http.Request) {
	if c.App.Actions == nil {
		writeError(w, http.StatusServiceUnavailable, ledger.ErrNoSigner.Error())
		return
	}

	var req action.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := c.App.Actions.Submit(r.Context(), req)
	if err != nil {
		writeError(w, actionStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func actionStatus(err error) int {
	switch {
	case errors.Is(err, action.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, action.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrTransactionRejected):
		return http.StatusBadGateway
	case errors.Is(err, ledger.ErrNoSigner), errors.Is(err, ledger.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
