package models

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestContentItemValidate(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		item    ContentItem
		wantErr error
	}{
		{
			name: "valid",
			item: ContentItem{Kind: KindImage, PayloadRef: "s3://bucket/a.png", Weight: 1},
		},
		{
			name:    "missing payload",
			item:    ContentItem{Kind: KindImage},
			wantErr: ErrMissingPayload,
		},
		{
			name:    "unknown kind",
			item:    ContentItem{Kind: "audio", PayloadRef: "x"},
			wantErr: ErrUnknownKind,
		},
		{
			name:    "negative weight",
			item:    ContentItem{Kind: KindWeb, PayloadRef: "https://x", Weight: -1},
			wantErr: ErrNegativeWeight,
		},
		{
			name: "inverted window",
			item: ContentItem{Kind: KindVideo, PayloadRef: "x",
				Windows: []Window{{Start: base.Add(time.Hour), End: base}}},
			wantErr: ErrInvalidWindow,
		},
		{
			name: "empty window",
			item: ContentItem{Kind: KindVideo, PayloadRef: "x",
				Windows: []Window{{Start: base, End: base}}},
			wantErr: ErrInvalidWindow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidAtWindowBoundaries(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	item := ContentItem{Kind: KindImage, PayloadRef: "x", Windows: []Window{{Start: start, End: end}}}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"just before start", start.Add(-time.Second), false},
		{"exactly at start", start, true},
		{"inside", start.Add(30 * time.Minute), true},
		{"exactly at end", end, false},
		{"after end", end.Add(time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := item.ValidAt(tt.at); got != tt.want {
				t.Errorf("ValidAt(%s) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestValidAtNoWindows(t *testing.T) {
	item := ContentItem{Kind: KindImage, PayloadRef: "x"}
	if !item.ValidAt(time.Now()) {
		t.Error("item without windows should always be valid")
	}
	if item.Expired(time.Now().Add(100 * 365 * 24 * time.Hour)) {
		t.Error("item without windows should never expire")
	}
}

func TestExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := Window{Start: now.Add(-2 * time.Hour), End: now.Add(-time.Hour)}
	future := Window{Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)}

	expired := ContentItem{Kind: KindImage, PayloadRef: "x", Windows: []Window{past}}
	if !expired.Expired(now) {
		t.Error("item whose only window ended should be expired")
	}

	pending := ContentItem{Kind: KindImage, PayloadRef: "x", Windows: []Window{past, future}}
	if pending.Expired(now) {
		t.Error("item with an upcoming window must not be expired")
	}
	if pending.ValidAt(now) {
		t.Error("item between windows must not be valid")
	}
}

func TestCloneIsDeep(t *testing.T) {
	played := time.Now()
	orig := &ContentItem{
		ID:         uuid.New(),
		Kind:       KindVideo,
		PayloadRef: "s3://b/v.mp4",
		Windows:    []Window{{Start: played, End: played.Add(time.Hour)}},
		LastPlayed: &played,
	}
	cp := orig.Clone()

	cp.Windows[0].End = played.Add(2 * time.Hour)
	*cp.LastPlayed = played.Add(time.Minute)

	if orig.Windows[0].End != played.Add(time.Hour) {
		t.Error("clone shares the windows slice with the original")
	}
	if !orig.LastPlayed.Equal(played) {
		t.Error("clone shares the LastPlayed pointer with the original")
	}
}
