package model

type EventKind string

const (
	EventPageDataArrived     EventKind = "page_data"
	EventNavigationCompleted EventKind = "navigation_completed"
	EventTabClosed           EventKind = "tab_closed"
	EventProceedAnyway       EventKind = "proceed_anyway"
	EventGetStatus           EventKind = "get_status"
	EventGoBack              EventKind = "go_back"
)

// Event is the envelope every transport (websocket, sqs) uses to reach the coordinator.
// Expected format: {"kind": "page_data", "tab_id": 7, "page": {...}} or
// {"kind": "navigation_completed", "tab_id": 7, "url": "https://example.com/next"}.
type Event struct {
	Kind  EventKind    `json:"kind"`
	TabID int          `json:"tab_id"`
	URL   string       `json:"url,omitempty"`
	Page  *PageSummary `json:"page,omitempty"`
}
