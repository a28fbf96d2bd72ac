package controller

import (
	"net/http"
)

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady answers 200 once every view is idle or has built a working set
// for the connected account.
func (c *Controller) HandleReady(w http.ResponseWriter, r *http.Request) {
	if !c.App.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "rebuilding"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
