package storage

import (
	"testing"
	"time"
)

func TestBuildObjectPathPartitionsByReasonAndDay(t *testing.T) {
	path, err := BuildObjectPath(PathParams{
		Reason:     ReasonInvalidSignature,
		ReceivedAt: time.Date(2025, time.March, 9, 23, 30, 0, 0, time.FixedZone("JST", 9*3600)),
		EntryID:    "01HX",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "webhooks/payment/invalid-signature/2025/03/09/01HX.json"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildObjectPathRejectsInvalidInput(t *testing.T) {
	now := time.Now()
	cases := map[string]PathParams{
		"unknown reason": {Reason: "other", ReceivedAt: now, EntryID: "a"},
		"traversal":      {Reason: ReasonMalformed, ReceivedAt: now, EntryID: "../bad"},
		"separator":      {Reason: ReasonMalformed, ReceivedAt: now, EntryID: "a/b"},
		"missing time":   {Reason: ReasonMalformed, EntryID: "a"},
		"missing id":     {Reason: ReasonMalformed, ReceivedAt: now},
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := BuildObjectPath(params); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
