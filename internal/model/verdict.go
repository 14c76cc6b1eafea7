package model

import (
	"strings"
	"time"
)

type Status string

const (
	StatusSafe       Status = "SAFE"
	StatusSuspicious Status = "SUSPICIOUS"
	StatusDangerous  Status = "DANGEROUS"
	StatusError      Status = "ERROR"
	StatusPending    Status = "PENDING"
)

// ParseStatus accepts only the three statuses a classifier may return.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusSafe, StatusSuspicious, StatusDangerous:
		return st, true
	default:
		return "", false
	}
}

// IsAlarming reports whether a fresh verdict with this status should raise a notification.
func (s Status) IsAlarming() bool {
	return s == StatusDangerous || s == StatusSuspicious
}

// VerdictRecord is the latest verdict for one tab. It is replaced wholesale, never merged.
type VerdictRecord struct {
	URL         string    `json:"url"`
	Status      Status    `json:"status"`
	Explanation string    `json:"explanation"`
	Timestamp   time.Time `json:"timestamp"`
}

// PendingPlaceholder is returned for tabs without a record.
func PendingPlaceholder() VerdictRecord {
	return VerdictRecord{Status: StatusPending, Explanation: "analysis has not completed yet"}
}

// VerdictEvent is published to the verdict stream for every freshly classified page.
type VerdictEvent struct {
	TabID       int       `json:"tab_id"`
	URL         string    `json:"url"`
	Domain      string    `json:"domain"`
	Status      Status    `json:"status"`
	Explanation string    `json:"explanation"`
	Timestamp   time.Time `json:"timestamp"`
	Instance    string    `json:"instance"`
}

type NotificationAction string

const (
	ActionGoBack      NotificationAction = "go_back"
	ActionViewDetails NotificationAction = "view_details"
)

type Notification struct {
	TabID    int                  `json:"tab_id"`
	Title    string               `json:"title"`
	Body     string               `json:"body"`
	Severity Status               `json:"severity"`
	Actions  []NotificationAction `json:"actions,omitempty"`
}
