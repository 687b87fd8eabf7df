package store

import "time"

// Activity is one committed board mutation.
type Activity struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"projectId"`
	Instance     string    `json:"instance"`
	ItemID       string    `json:"itemId"`
	Action       string    `json:"action"`
	FromLocation string    `json:"fromLocation"`
	ToLocation   string    `json:"toLocation"`
	Actor        string    `json:"actor"`
	CreatedAt    time.Time `json:"createdAt"`
}
