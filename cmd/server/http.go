package main

import (
	"fmt"
	"io"
	"net/http"
	"sort"

	"somnia.ai/internal/persistence/indexdb"
	"somnia.ai/internal/sim/engine"
	"somnia.ai/internal/transport/adapter"
	"somnia.ai/internal/transport/observer"
)

type statusSource interface {
	Status() engine.Status
}

// queueStats are the off-loop queues reported on /metrics.
type queueStats struct {
	adapterDropped  uint64
	adapters        int
	observers       int
	observerDropped uint64
	index           *indexdb.Stats
}

func newMux(e statusSource, hub *adapter.Hub, bc *observer.Broadcaster, idx indexdb.Index, a *adapter.Server, o *observer.Server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		q := queueStats{
			adapterDropped:  hub.Dropped(),
			adapters:        len(hub.Connections()),
			observers:       bc.Observers(),
			observerDropped: bc.Dropped(),
		}
		if idx != nil {
			st := idx.Stats()
			q.index = &st
		}
		writeMetrics(rw, e.Status(), q)
	})
	mux.HandleFunc("/debug/status", o.StatusHandler())
	mux.HandleFunc("/v1/observe", o.WSHandler())
	mux.HandleFunc("/v1/adapter", a.Handler())
	return mux
}

// writeMetrics renders a minimal Prometheus exposition.
func writeMetrics(w io.Writer, st engine.Status, q queueStats) {
	gauge := func(name, help string) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s gauge\n", name)
	}
	counter := func(name, help string) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s counter\n", name)
	}

	gauge("somnia_tick", "Current engine tick.")
	fmt.Fprintf(w, "somnia_tick %d\n", st.Tick)

	gauge("somnia_actors", "Known actors by state.")
	fmt.Fprintf(w, "somnia_actors{state=%q} %d\n", "known", st.Actors)
	fmt.Fprintf(w, "somnia_actors{state=%q} %d\n", "online", st.Online)
	fmt.Fprintf(w, "somnia_actors{state=%q} %d\n", "qualifying", st.Qualifying)

	gauge("somnia_sessions", "Live sessions by kind.")
	for _, k := range sortedKeys(st.Sessions) {
		fmt.Fprintf(w, "somnia_sessions{kind=%q} %d\n", k, st.Sessions[k])
	}

	gauge("somnia_groups", "Live groups by kind.")
	byKind := map[string]int{}
	for _, g := range st.Groups {
		byKind[g.Kind]++
	}
	for _, k := range sortedKeys(byKind) {
		fmt.Fprintf(w, "somnia_groups{kind=%q} %d\n", k, byKind[k])
	}

	counter("somnia_groups_formed_total", "Groups formed since start.")
	fmt.Fprintf(w, "somnia_groups_formed_total %d\n", st.Formed)

	counter("somnia_sessions_ended_total", "Ended sessions by reason.")
	for _, k := range sortedKeys(st.Ended) {
		fmt.Fprintf(w, "somnia_sessions_ended_total{reason=%q} %d\n", k, st.Ended[k])
	}

	gauge("somnia_queue_depth", "Engine inbox backlog.")
	fmt.Fprintf(w, "somnia_queue_depth{queue=%q} %d\n", "inbox", st.InboxLen)

	gauge("somnia_connections", "Connected websocket clients.")
	fmt.Fprintf(w, "somnia_connections{kind=%q} %d\n", "adapter", q.adapters)
	fmt.Fprintf(w, "somnia_connections{kind=%q} %d\n", "observer", q.observers)

	counter("somnia_dropped_total", "Frames or events dropped because a queue was full.")
	fmt.Fprintf(w, "somnia_dropped_total{queue=%q} %d\n", "adapter", q.adapterDropped)
	fmt.Fprintf(w, "somnia_dropped_total{queue=%q} %d\n", "observer", q.observerDropped)
	if q.index != nil {
		fmt.Fprintf(w, "somnia_dropped_total{queue=%q} %d\n", "index", q.index.Dropped)
		gauge("somnia_index_queue_depth", "Index writer backlog.")
		fmt.Fprintf(w, "somnia_index_queue_depth %d\n", q.index.QueueDepth)
		counter("somnia_index_written_total", "Events written to the index.")
		fmt.Fprintf(w, "somnia_index_written_total %d\n", q.index.Written)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
