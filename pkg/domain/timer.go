package domain

import "time"

// Timer is a durable wake-up registration for a context.
type Timer struct {
	ID        string    `json:"id"`
	ContextID string    `json:"contextId"`
	Deadline  time.Time `json:"deadline"`
	Tag       WaitKind  `json:"tag"`
	CreatedAt time.Time `json:"createdAt"`
}

// Due reports whether the timer should fire at now.
func (t Timer) Due(now time.Time) bool {
	return !t.Deadline.After(now)
}
