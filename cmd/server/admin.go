package main

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"crossword.ai/internal/persistence/indexdb"
	persistlog "crossword.ai/internal/persistence/log"
	"crossword.ai/internal/persistence/snapshot"
	"crossword.ai/internal/registry"
)

const snapshotSuffix = ".snap.zst"

type snapshotter interface {
	ExportSnapshot(ctx context.Context) (snapshot.RegistryV1, error)
}

type adminDeps struct {
	reg     snapshotter
	idx     *indexdb.SQLiteIndex
	dataDir string
	log     *log.Logger
}

// registerAdmin mounts the loopback-only operator endpoints.
func registerAdmin(mux *http.ServeMux, d adminDeps) {
	mux.HandleFunc("POST /admin/v1/snapshot", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		path, h, err := writeSnapshot(ctx, d.reg, d.idx, d.dataDir)
		if err != nil {
			d.log.Printf("admin snapshot: %v", err)
			writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "path": path, "header": h})
	}))
	mux.HandleFunc("GET /admin/v1/index/stats", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, d.idx.Stats())
	}))
	mux.HandleFunc("GET /admin/v1/payouts", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		if d.idx == nil {
			http.Error(rw, "index disabled", http.StatusNotFound)
			return
		}
		rows, err := d.idx.ListPayouts(r.Context(), queryInt(r, "limit", 100))
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"payouts": rows})
	}))
	mux.HandleFunc("GET /admin/v1/audits", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 100)
		var (
			entries []registry.AuditEntry
			err     error
		)
		if d.idx != nil {
			hash := registry.NormalizeHash(r.URL.Query().Get("hash"))
			entries, err = d.idx.ListAudits(r.Context(), hash, limit)
		} else {
			entries, err = persistlog.TailAudit(persistlog.AuditDir(d.dataDir), limit)
		}
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"audits": entries})
	}))
}

// writeSnapshot exports the registry to <data>/snapshots and records the file
// in the index when one is open.
func writeSnapshot(ctx context.Context, reg snapshotter, idx *indexdb.SQLiteIndex, dataDir string) (string, snapshot.Header, error) {
	snap, err := reg.ExportSnapshot(ctx)
	if err != nil {
		return "", snapshot.Header{}, err
	}
	name := time.Now().UTC().Format("20060102T150405.000000000Z") + snapshotSuffix
	path := filepath.Join(snapshotDir(dataDir), name)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return "", snapshot.Header{}, err
	}
	if idx != nil {
		idx.RecordSnapshot(path, snap.Header)
	}
	return path, snap.Header, nil
}

func snapshotDir(dataDir string) string { return filepath.Join(dataDir, "snapshots") }

// latestSnapshot returns the newest snapshot file, or "" when there is none.
// Names sort chronologically.
func latestSnapshot(dataDir string) string {
	ents, err := os.ReadDir(snapshotDir(dataDir))
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range ents {
		if !e.IsDir() && strings.HasSuffix(e.Name(), snapshotSuffix) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(snapshotDir(dataDir), names[len(names)-1])
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
