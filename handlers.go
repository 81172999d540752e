package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/kwv/warpmesh/warp"
	"github.com/sirupsen/logrus"
)

type pointRequest struct {
	Side      warp.Side  `json:"side"`
	Point     warp.Point `json:"point"`
	Transient bool       `json:"transient,omitempty"`
}

func newHTTPServer(a *App) http.Handler {
	mux := http.NewServeMux()
	log := logrus.StandardLogger().WithField("component", "http")

	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.WithError(err).Warn("encoding response")
		}
	}
	writeError := func(w http.ResponseWriter, err error) {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, warp.ErrOutOfRange):
			status = http.StatusNotFound
		case errors.Is(err, warp.ErrUnderdetermined), errors.Is(err, warp.ErrDegenerateFit):
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
	}
	rowParam := func(r *http.Request) (int, error) {
		return strconv.Atoi(r.PathValue("row"))
	}
	edit := func(w http.ResponseWriter, cmd warp.EditCommand) {
		res, err := warp.ApplyEdit(a.Table, cmd)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Rows      int       `json:"rows"`
			Active    int       `json:"active"`
			MQTT      bool      `json:"mqtt"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Rows:      a.Table.Len(),
			Active:    a.Table.NumActive(),
			MQTT:      a.MQTTClient != nil && a.MQTTClient.IsConnected(),
		}
		writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("GET /landmarks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, warp.LandmarksMessage{
			Dim:       a.Table.Dim(),
			Version:   a.Table.Version(),
			Active:    a.Table.NumActive(),
			Rows:      a.Table.Rows(),
			Timestamp: time.Now().Unix(),
		})
	})

	mux.HandleFunc("GET /landmarks.geojson", func(w http.ResponseWriter, r *http.Request) {
		fc, err := warp.LandmarksGeoJSON(a.Table)
		if err != nil {
			writeError(w, err)
			return
		}
		data, err := fc.MarshalJSON()
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write(data)
	})

	mux.HandleFunc("POST /points", func(w http.ResponseWriter, r *http.Request) {
		var req pointRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, err)
			return
		}
		edit(w, warp.EditCommand{Op: warp.EditAdd, Side: req.Side, Point: req.Point, Transient: req.Transient})
	})

	mux.HandleFunc("PUT /points/{row}", func(w http.ResponseWriter, r *http.Request) {
		row, err := rowParam(r)
		if err != nil {
			writeError(w, err)
			return
		}
		var req pointRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, err)
			return
		}
		edit(w, warp.EditCommand{Op: warp.EditSet, Row: row, Side: req.Side, Point: req.Point, Transient: req.Transient})
	})

	mux.HandleFunc("DELETE /points/{row}", func(w http.ResponseWriter, r *http.Request) {
		row, err := rowParam(r)
		if err != nil {
			writeError(w, err)
			return
		}
		edit(w, warp.EditCommand{Op: warp.EditDelete, Row: row})
	})

	mux.HandleFunc("POST /undo", func(w http.ResponseWriter, r *http.Request) {
		edit(w, warp.EditCommand{Op: warp.EditUndo})
	})

	mux.HandleFunc("POST /redo", func(w http.ResponseWriter, r *http.Request) {
		edit(w, warp.EditCommand{Op: warp.EditRedo})
	})

	mux.HandleFunc("POST /save", func(w http.ResponseWriter, r *http.Request) {
		if a.LandmarksFile == "" {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "no landmark file configured"})
			return
		}
		if err := a.Table.Save(a.LandmarksFile); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"path": a.LandmarksFile, "rows": a.Table.Len()})
	})

	mux.HandleFunc("GET /transform", func(w http.ResponseWriter, r *http.Request) {
		status := warp.DescribeTransform(a.Table, a.Model)
		code := http.StatusOK
		if status.Error != "" {
			code = http.StatusUnprocessableEntity
		}
		writeJSON(w, code, status)
	})

	mux.HandleFunc("GET /warp", func(w http.ResponseWriter, r *http.Request) {
		p, err := warp.ParsePoint(r.URL.Query().Get("p"))
		if err != nil {
			writeError(w, err)
			return
		}
		inverse := false
		if s := r.URL.Query().Get("inverse"); s != "" {
			if inverse, err = strconv.ParseBool(s); err != nil {
				writeError(w, err)
				return
			}
		}
		tr, err := a.CurrentTransform()
		if err != nil {
			writeError(w, err)
			return
		}
		if p.Dim() != tr.Dim() {
			writeError(w, warp.ErrDimensionMismatch)
			return
		}
		writeJSON(w, http.StatusOK, warpPoint(tr, p, inverse, a.Config.Inverse.Transform))
	})

	return logRequests(mux, log)
}

// logRequests logs every request at debug level.
func logRequests(next http.Handler, log *logrus.Entry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"remote":   r.RemoteAddr,
			"duration": time.Since(start),
		}).Debug("request")
	})
}
