// Command collab-sim simulates the three collaborator services the
// executor talks to during local development: the content generator,
// the submission gateway, and the notification receiver.
//
//	GENERATOR_URL=http://localhost:9001/generate
//	SUBMIT_URL=http://localhost:9001/submit
//	NOTIFY_URL=http://localhost:9001/hook
//
// Set SECRET to the same value as SUBMIT_SECRET to have the gateway
// reject submissions with a bad signature, and FAIL_EVERY=n to make
// every n-th submission return 502 for testing failure handling.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

type request struct {
	Timestamp string            `json:"timestamp"`
	Path      string            `json:"path"`
	Headers   map[string]string `json:"headers"`
	Body      string            `json:"body"`
}

type stats struct {
	Generated    int64     `json:"generated"`
	Submitted    int64     `json:"submitted"`
	Rejected     int64     `json:"rejected"`
	Notified     int64     `json:"notified"`
	LastRequests []request `json:"last_requests"`
	Since        string    `json:"since"`
}

var (
	mu           sync.Mutex
	generated    int64
	submitted    int64
	rejected     int64
	notified     int64
	lastRequests []request
	since        time.Time
	maxStored    = 50

	secret    string
	failEvery int64
)

func main() {
	since = time.Now().UTC()
	secret = os.Getenv("SECRET")
	if v := os.Getenv("FAIL_EVERY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			failEvery = n
		}
	}

	addr := ":9001"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	http.HandleFunc("/generate", generateHandler)
	http.HandleFunc("/submit", submitHandler)
	http.HandleFunc("/hook", hookHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		generated, submitted, rejected, notified = 0, 0, 0, 0
		lastRequests = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("collab-sim listening on %s (secret=%v fail_every=%d)", addr, secret != "", failEvery)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func generateHandler(w http.ResponseWriter, r *http.Request) {
	body := record(r)

	mu.Lock()
	generated++
	n := generated
	mu.Unlock()

	log.Printf("generate #%d: %s", n, body)
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"content_ref":"sim://content/%d"}`, n)
}

func submitHandler(w http.ResponseWriter, r *http.Request) {
	body := record(r)

	if secret != "" {
		sig := r.Header.Get("X-ApplyForge-Signature")
		want := computeSignature(secret, []byte(body))
		if !hmac.Equal([]byte(sig), []byte(want)) {
			mu.Lock()
			rejected++
			mu.Unlock()
			log.Printf("submit rejected: bad signature")
			http.Error(w, "bad signature", http.StatusUnauthorized)
			return
		}
	}

	mu.Lock()
	submitted++
	n := submitted
	mu.Unlock()

	if failEvery > 0 && n%failEvery == 0 {
		log.Printf("submit #%d: simulated failure", n)
		http.Error(w, "simulated gateway failure", http.StatusBadGateway)
		return
	}

	log.Printf("submit #%d: %s", n, body)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"accepted":%d}`, n)
}

func hookHandler(w http.ResponseWriter, r *http.Request) {
	body := record(r)

	mu.Lock()
	notified++
	n := notified
	mu.Unlock()

	log.Printf("hook #%d: %s", n, body)
	w.WriteHeader(http.StatusOK)
}

// record captures the request for /stats and returns its body.
func record(r *http.Request) string {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	headers := make(map[string]string)
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	req := request{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Path:      r.URL.Path,
		Headers:   headers,
		Body:      string(body),
	}

	mu.Lock()
	lastRequests = append(lastRequests, req)
	if len(lastRequests) > maxStored {
		lastRequests = lastRequests[len(lastRequests)-maxStored:]
	}
	mu.Unlock()

	return string(body)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Generated:    generated,
		Submitted:    submitted,
		Rejected:     rejected,
		Notified:     notified,
		LastRequests: lastRequests,
		Since:        since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

// computeSignature mirrors the executor's submission signing scheme.
func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
