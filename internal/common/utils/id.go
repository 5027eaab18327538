// Package utils provides small helpers shared across the router: identifiers and retries.
package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateEventID returns an identifier for one handled stable-study event.
// The study id is kept in the value so audit rows can be grepped by it.
func GenerateEventID(source, studyID string) string {
	return fmt.Sprintf("%s-%s-%s", source, studyID, uuid.NewString()[:8])
}

// GenerateRequestID returns a request id for tracing admin and ingress HTTP calls.
func GenerateRequestID() string {
	return fmt.Sprintf("req-%s-%d", uuid.NewString(), time.Now().Unix())
}

// GenerateUUID returns a random RFC 4122 version 4 UUID.
func GenerateUUID() string {
	return uuid.NewString()
}
