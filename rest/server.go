// Copyright 2026 The Poolvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/poolvisor/poolvisor"
	"github.com/gorilla/mux"
)

// pollMax caps long-poll waits requested via the poll query parameter.
const pollMax = 300 * time.Second

// Handler wraps a Pool, adding http.Handler functionality.
type Handler struct {
	p *poolvisor.Pool
	r *mux.Router
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.Write(b)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	if b, err := json.Marshal(e); err != nil {
		h.internalError(w, err)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(e.Code)
		w.Write(b)
	}
}

// pollSerial implements etag long-polling over the registry serial.
// With an If-None-Match header and a poll parameter, the request
// blocks until the pool changes or the poll window expires; an
// unchanged serial yields 304.
func (h *Handler) pollSerial(w http.ResponseWriter, r *http.Request) bool {
	etag := r.Header.Get("If-None-Match")
	if etag == "" {
		return true
	}
	old, err := strconv.ParseInt(etag, 10, 64)
	if err != nil {
		return true
	}
	if h.p.WatchSerial(old, pollWindow(r)) == old {
		w.WriteHeader(http.StatusNotModified)
		return false
	}
	return true
}

func (h *Handler) getPool(w http.ResponseWriter, r *http.Request) {
	if !h.pollSerial(w, r) {
		return
	}
	info := h.p.Info()
	w.Header().Set("Etag", strconv.FormatInt(info.Serial, 10))
	h.writeJson(w, info)
}

func (h *Handler) listWorkers(w http.ResponseWriter, r *http.Request) {
	workers := h.p.Workers()
	l := make([]string, 0, len(workers))
	for _, wi := range workers {
		l = append(l, wi.Id)
	}
	h.writeJson(w, l)
}

// pollWindow extracts the long-poll window from the poll query
// parameter, capped at pollMax.
func pollWindow(r *http.Request) time.Duration {
	var expire time.Duration
	if secs, err := strconv.Atoi(r.URL.Query().Get("poll")); err == nil && secs > 0 {
		expire = time.Duration(secs) * time.Second
		if expire > pollMax {
			expire = pollMax
		}
	}
	return expire
}

func (h *Handler) getWorker(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["worker"]
	if etag := r.Header.Get("If-None-Match"); etag != "" {
		if old, err := strconv.ParseInt(etag, 10, 64); err == nil {
			if h.p.WatchWorker(id, old, pollWindow(r)) == old {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	}
	if info, e := h.p.Worker(id); e != nil {
		h.writeError(w, &Error{http.StatusNotFound, e.Error()})
	} else {
		w.Header().Set("Etag", strconv.FormatInt(info.Serial, 10))
		h.writeJson(w, info)
	}
}

func (h *Handler) replaceWorker(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["worker"]
	if err := h.p.Replace(id); err == poolvisor.ErrNoSuchWorker {
		h.writeError(w, &Error{http.StatusNotFound, err.Error()})
	} else if err != nil {
		h.writeError(w, &Error{http.StatusBadRequest, err.Error()})
	} else {
		h.writeJson(w, ok)
	}
}

func (h *Handler) restartPool(w http.ResponseWriter, r *http.Request) {
	if err := h.p.RollingRestart(); err != nil {
		h.writeError(w, &Error{http.StatusBadRequest, err.Error()})
	} else {
		h.writeJson(w, ok)
	}
}

func (h *Handler) setSize(w http.ResponseWriter, r *http.Request) {
	req := &SizeRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		h.writeError(w, &Error{http.StatusBadRequest, err.Error()})
		return
	}
	if err := h.p.SetPoolSize(req.Size); err != nil {
		h.writeError(w, &Error{http.StatusBadRequest, err.Error()})
	} else {
		h.writeJson(w, ok)
	}
}

func (h *Handler) setLimit(w http.ResponseWriter, r *http.Request) {
	req := &LimitRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		h.writeError(w, &Error{http.StatusBadRequest, err.Error()})
		return
	}
	if err := h.p.SetResourceLimit(req.Limit); err != nil {
		h.writeError(w, &Error{http.StatusBadRequest, err.Error()})
	} else {
		h.writeJson(w, ok)
	}
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	var last int64
	if etag := r.Header.Get("If-None-Match"); etag != "" {
		last, _ = strconv.ParseInt(etag, 10, 64)
	}
	recs, id := h.p.GetLog(last)
	if recs == nil && last != 0 {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Etag", strconv.FormatInt(id, 10))
	h.writeJson(w, recs)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

func NewHandler(p *poolvisor.Pool) *Handler {
	r := mux.NewRouter()
	h := &Handler{p: p, r: r}
	r.HandleFunc("/pool", h.getPool).Methods("GET")
	r.HandleFunc("/pool/size", h.setSize).Methods("PUT")
	r.HandleFunc("/pool/limit", h.setLimit).Methods("PUT")
	r.HandleFunc("/pool/restart", h.restartPool).Methods("POST")
	r.HandleFunc("/workers", h.listWorkers).Methods("GET")
	r.HandleFunc("/workers/{worker}", h.getWorker).Methods("GET")
	r.HandleFunc("/workers/{worker}/replace", h.replaceWorker).Methods("POST")
	r.HandleFunc("/log", h.getLog).Methods("GET")
	return h
}
