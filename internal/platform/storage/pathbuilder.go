package storage

import (
	"fmt"
	"strings"
	"time"
)

// ArchiveReason captures why a webhook body was archived and drives the object layout.
type ArchiveReason string

const (
	ReasonInvalidSignature ArchiveReason = "invalid-signature"
	ReasonMalformed        ArchiveReason = "malformed"
	ReasonAmountMismatch   ArchiveReason = "amount-mismatch"
)

// PathParams provide the identifiers used to compose archive object keys.
type PathParams struct {
	Reason     ArchiveReason
	ReceivedAt time.Time
	EntryID    string
}

// BuildObjectPath resolves the archive object path, partitioned by reason and UTC day.
func BuildObjectPath(params PathParams) (string, error) {
	reason, err := validateSegment("reason", string(params.Reason))
	if err != nil {
		return "", err
	}
	switch ArchiveReason(reason) {
	case ReasonInvalidSignature, ReasonMalformed, ReasonAmountMismatch:
	default:
		return "", fmt.Errorf("storage: unsupported archive reason %q", reason)
	}
	entryID, err := validateSegment("entryID", params.EntryID)
	if err != nil {
		return "", err
	}
	if params.ReceivedAt.IsZero() {
		return "", fmt.Errorf("storage: receivedAt is required")
	}
	day := params.ReceivedAt.UTC().Format("2006/01/02")
	return fmt.Sprintf("webhooks/payment/%s/%s/%s.json", reason, day, entryID), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
