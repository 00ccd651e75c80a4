package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"
)

// StreamScript controls what the fake generate endpoint sends for one
// request.
type StreamScript struct {
	// Fragments are sent as individual NDJSON records with done:false.
	Fragments []string
	// KeepAlivesBefore inserts that many empty lines ahead of the records.
	KeepAlivesBefore int
	// Delay paces the writes; zero writes everything at once.
	Delay time.Duration
	// TruncateEarly drops the connection after the fragments, omitting the
	// terminal done record.
	TruncateEarly bool
	// RawLines, when set, bypasses record construction entirely and is sent
	// verbatim (each entry gets a trailing newline).
	RawLines []string
}

// NewStreamHandler builds a generate endpoint handler that replays the
// script for every request, flushing line by line so clients observe
// genuinely incremental chunks.
func NewStreamHandler(script StreamScript) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)

		writeLine := func(line string) {
			fmt.Fprintf(w, "%s\n", line)
			flusher.Flush()
			if script.Delay > 0 {
				time.Sleep(script.Delay)
			}
		}

		if script.RawLines != nil {
			for _, l := range script.RawLines {
				writeLine(l)
			}
			return
		}

		for i := 0; i < script.KeepAlivesBefore; i++ {
			writeLine("")
		}
		for _, f := range script.Fragments {
			rec, _ := json.Marshal(map[string]any{"model": req.Model, "response": f, "done": false})
			writeLine(string(rec))
		}
		if script.TruncateEarly {
			return
		}
		rec, _ := json.Marshal(map[string]any{
			"model": req.Model, "response": "", "done": true,
			"done_reason": "stop", "eval_count": len(script.Fragments),
		})
		writeLine(string(rec))
	}
}

// NewStreamServer returns an httptest server whose /api/generate endpoint
// replays the script and whose /api/tags endpoint lists models (may be
// nil).
func NewStreamServer(script StreamScript, models ...string) *httptest.Server {
	mux := http.NewServeMux()
	mux.Handle("/api/generate", NewStreamHandler(script))
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		type tag struct {
			Name string `json:"name"`
		}
		resp := struct {
			Models []tag `json:"models"`
		}{Models: []tag{}}
		for _, m := range models {
			resp.Models = append(resp.Models, tag{Name: m})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	return httptest.NewServer(mux)
}
