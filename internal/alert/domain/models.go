package domain

import (
	"context"
	"time"
)

// Alert is an operational notification about a failed provider call.
type Alert struct {
	Class      string
	Message    string
	Parameters map[string]any
	OccurredAt time.Time
}

type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}
