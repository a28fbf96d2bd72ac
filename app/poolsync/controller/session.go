package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stream-pools/poolsync/pkg/session"
)

type sessionRequest struct {
	Account string `json:"account"`
}

type sessionResponse struct {
	Connected bool   `json:"connected"`
	Account   string `json:"account,omitempty"`
}

func (c *Controller) currentSession() sessionResponse {
	id := c.App.Session.Current()
	if !id.Connected {
		return sessionResponse{}
	}
	return sessionResponse{Connected: true, Account: id.Account.Hex()}
}

func (c *Controller) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.currentSession())
}

// HandleConnect switches the session to the posted account. With a signer
// configured only the signing account is accepted.
func (c *Controller) HandleConnect(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !common.IsHexAddress(req.Account) {
		writeError(w, http.StatusBadRequest, "account must be a hex address")
		return
	}
	account := common.HexToAddress(req.Account)
	if c.App.Signer != nil && account != *c.App.Signer {
		writeError(w, http.StatusConflict, "account differs from the signing account")
		return
	}

	if err := c.App.Session.Connect(account); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrInvalidAccount) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c.currentSession())
}

func (c *Controller) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	c.App.Session.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}
