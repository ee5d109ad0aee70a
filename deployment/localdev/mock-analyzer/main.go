package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

type analyzeRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

type analyzeResponse struct {
	Content      string            `json:"content"`
	Model        string            `json:"model"`
	FinishReason string            `json:"finish_reason"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// Modes: ok, slow, flaky (every other call fails with 503), 429, 500, 401.
func main() {
	addr := flag.String("addr", ":8080", "listen address")
	mode := flag.String("mode", "ok", "response mode: ok, slow, flaky, 429, 500, 401")
	delay := flag.Duration("delay", 5*time.Second, "latency applied in slow mode")
	flag.Parse()

	var calls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/analyze", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		n := calls.Add(1)

		switch *mode {
		case "slow":
			select {
			case <-time.After(*delay):
			case <-r.Context().Done():
				return
			}
		case "flaky":
			if n%2 == 1 {
				http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
				return
			}
		case "429":
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		case "500":
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		case "401":
			http.Error(w, "invalid api key", http.StatusUnauthorized)
			return
		}

		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		model := req.Model
		if model == "" {
			model = "mock-analyzer"
		}
		writeJSON(w, analyzeResponse{
			Content:      "summary: " + summarize(req.Text),
			Model:        model,
			FinishReason: "stop",
			Attributes: map[string]string{
				"placeholders": strconv.Itoa(strings.Count(req.Text, "[")),
			},
		})
	})

	logger := log.New(log.Writer(), "analyzer-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    *addr,
		Handler: logRequests(logger, mux),
	}

	logger.Printf("listening on %s (mode=%s)", *addr, *mode)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func summarize(text string) string {
	words := strings.Fields(text)
	if len(words) > 12 {
		words = words[:12]
	}
	return strings.Join(words, " ")
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
