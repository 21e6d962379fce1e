package amqp

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/applyforge/applyforge/internal/domain"
)

func TestEncodeDecodeRequest(t *testing.T) {
	req := domain.RunRequest{
		CampaignID: uuid.New(),
		Identity:   "user@example.com",
		DueAt:      time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		EmittedAt:  time.Date(2025, 6, 1, 9, 0, 30, 0, time.UTC),
	}

	body, err := encodeRequest(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := decodeRequest(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.CampaignID != req.CampaignID {
		t.Errorf("campaign id = %v, want %v", got.CampaignID, req.CampaignID)
	}
	if got.Identity != req.Identity {
		t.Errorf("identity = %q", got.Identity)
	}
	if !got.DueAt.Equal(req.DueAt) {
		t.Errorf("due_at = %v, want %v", got.DueAt, req.DueAt)
	}
}

func TestDecodeRequest_BadPayloads(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "not json at all"},
		{"bad uuid", `{"campaign_id":"nope","identity":"u"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeRequest([]byte(tt.body)); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}
