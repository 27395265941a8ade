package models

import "strings"

const maxErrorMessageLen = 240

// NormalizeErrorMessage collapses an error into a single bounded line fit
// for a status column. Always non-empty.
func NormalizeErrorMessage(msg string) string {
	msg = strings.Join(strings.Fields(msg), " ")
	if msg == "" {
		return "unknown error"
	}
	if len(msg) > maxErrorMessageLen {
		return msg[:maxErrorMessageLen-3] + "..."
	}
	return msg
}
