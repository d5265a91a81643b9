package model

// BrokerStats is the aggregate snapshot reported by GET SYSTEM STATUS.
// ClientCount comes from the live connection registry, not the database; the
// stats repository fills in the persisted counters.
type BrokerStats struct {
	ClientCount  int    `json:"clientCount"`
	EventCount   int64  `json:"eventCount"`
	PendingCount int64  `json:"pendingCount"`
	Status       string `json:"status"`
	UptimeSecs   int64  `json:"uptimeSecs"`
}
