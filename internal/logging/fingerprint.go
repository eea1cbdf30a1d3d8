package logging

import log "github.com/sirupsen/logrus"

// ForRequest returns a logger scoped to one request's fingerprint: the pair
// of (request_id, identity_index) used only for tracing, never persisted.
// identityIndex is the sentinel -1 when no identity is currently active.
func ForRequest(requestID string, identityIndex int) *log.Entry {
	return log.WithFields(log.Fields{
		"request_id":     requestID,
		"identity_index": identityIndex,
	})
}
