package controller

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/stream-pools/poolsync/app/poolsync/types"
	"github.com/stream-pools/poolsync/pkg/projection"
	"github.com/stream-pools/poolsync/pkg/reconciler"
)

// ViewResponse is the projected working set of one view.
type ViewResponse struct {
	View       string      `json:"view"`
	State      string      `json:"state"`
	Account    string      `json:"account,omitempty"`
	Generation uint64      `json:"generation"`
	BuiltAt    *time.Time  `json:"builtAt,omitempty"`
	Omitted    []uint64    `json:"omitted"`
	Rows       interface{} `json:"rows"`
}

// PoolStreamsResponse is the recipient detail of one owned pool.
type PoolStreamsResponse struct {
	Pool    projection.PoolRow              `json:"pool"`
	Streams []projection.RecipientStreamRow `json:"streams"`
}

func newViewResponse(src types.ViewSource, rows interface{}) ViewResponse {
	snap := src.Snapshot()
	resp := ViewResponse{
		View:    string(src.View()),
		State:   src.State().String(),
		Omitted: []uint64{},
		Rows:    rows,
	}
	if snap != nil && snap.Generation > 0 {
		resp.Account = snap.Account.Hex()
		resp.Generation = snap.Generation
		builtAt := snap.BuiltAt
		resp.BuiltAt = &builtAt
		if len(snap.Omitted) > 0 {
			resp.Omitted = snap.Omitted
		}
	}
	return resp
}

func (c *Controller) HandlePools(w http.ResponseWriter, r *http.Request) {
	src := c.App.Pools
	writeJSON(w, http.StatusOK, newViewResponse(src, projection.Pools(src.Snapshot())))
}

func (c *Controller) HandleStreams(w http.ResponseWriter, r *http.Request) {
	src := c.App.Streams
	writeJSON(w, http.StatusOK, newViewResponse(src, projection.Streams(src.Snapshot())))
}

func (c *Controller) HandlePoolStreams(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "pool id must be a non-negative integer")
		return
	}

	pool, streams, err := c.App.Pools.PoolStreams(r.Context(), id)
	switch {
	case errors.Is(err, reconciler.ErrNotOwned):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		c.App.Logger.Warn("Pool streams read failed", zap.Uint64("poolId", id), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, PoolStreamsResponse{
		Pool:    projection.Pool(pool),
		Streams: projection.RecipientStreams(pool, streams),
	})
}

func (c *Controller) HandleRefreshPools(w http.ResponseWriter, r *http.Request) {
	c.App.Pools.Trigger(reconciler.SourceManual)
	w.WriteHeader(http.StatusAccepted)
}

func (c *Controller) HandleRefreshStreams(w http.ResponseWriter, r *http.Request) {
	c.App.Streams.Trigger(reconciler.SourceManual)
	w.WriteHeader(http.StatusAccepted)
}
