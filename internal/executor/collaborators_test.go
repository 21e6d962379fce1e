package executor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/applyforge/applyforge/internal/domain"
)

func TestHTTPGenerator_Generate(t *testing.T) {
	var got generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(generateResponse{ContentRef: "s3://content/abc"})
	}))
	defer server.Close()

	g := NewHTTPGenerator(server.URL, 5*time.Second)
	campaign := domain.Campaign{ID: uuid.New(), Identity: "user@example.com"}
	posting := domain.JobPosting{Title: "Backend Engineer", Company: "Acme", URL: "https://example.com/j/1"}

	ref, err := g.Generate(context.Background(), campaign, posting)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if ref != "s3://content/abc" {
		t.Errorf("content ref = %q", ref)
	}
	if got.Identity != "user@example.com" || got.Title != "Backend Engineer" {
		t.Errorf("request payload = %+v", got)
	}
}

func TestHTTPGenerator_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"empty content ref", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(generateResponse{})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			g := NewHTTPGenerator(server.URL, 5*time.Second)
			if _, err := g.Generate(context.Background(), domain.Campaign{}, domain.JobPosting{}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestHTTPSubmitter_SignsRequests(t *testing.T) {
	const secret = "test-secret"

	var body []byte
	var signature, campaignID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		signature = r.Header.Get("X-ApplyForge-Signature")
		campaignID = r.Header.Get("X-ApplyForge-Campaign-ID")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	s := NewHTTPSubmitter(server.URL, secret, 5*time.Second)
	sub := Submission{
		CampaignID:  uuid.New().String(),
		Identity:    "user@example.com",
		Fingerprint: "fp-01",
		ContentRef:  "s3://content/abc",
	}
	if err := s.Submit(context.Background(), sub); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if campaignID != sub.CampaignID {
		t.Errorf("campaign id header = %q, want %q", campaignID, sub.CampaignID)
	}
	if !VerifySignature(secret, body, signature) {
		t.Error("signature does not verify against the body")
	}
	if VerifySignature("wrong-secret", body, signature) {
		t.Error("signature verified with the wrong secret")
	}
}

func TestHTTPSubmitter_GatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	s := NewHTTPSubmitter(server.URL, "secret", 5*time.Second)
	if err := s.Submit(context.Background(), Submission{}); err == nil {
		t.Error("expected error on non-2xx status")
	}
}
