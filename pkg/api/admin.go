package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"eventbatcher/pkg/logger"
	"eventbatcher/pkg/store"
)

type adminStats struct {
	Queued int          `json:"queued"`
	Store  *store.Stats `json:"store,omitempty"`
}

func registerAdmin(r *mux.Router, opts Options) {
	r.HandleFunc("/stats", func(w http.ResponseWriter, req *http.Request) {
		var out adminStats
		if opts.Backlog != nil {
			out.Queued = opts.Backlog()
		}
		if opts.Store != nil {
			st := opts.Store.Stats()
			out.Store = &st
		}
		_ = JSONWrite(w, http.StatusOK, out)
	}).Methods(http.MethodGet)

	if opts.Store == nil {
		return
	}
	r.HandleFunc("/documents/{destination}/{id}", func(w http.ResponseWriter, req *http.Request) {
		vars := mux.Vars(req)
		doc, ok, err := opts.Store.Get(vars["destination"], vars["id"])
		if err != nil {
			logger.Error("admin_get_document_failed", "destination", vars["destination"], "id", vars["id"], "error", err)
			JSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			JSONError(w, http.StatusNotFound, "document not found")
			return
		}
		_ = JSONWrite(w, http.StatusOK, doc)
	}).Methods(http.MethodGet)
}
