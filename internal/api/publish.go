package api

import (
	"context"
	"time"
)

// publishJSON fires an advisory event at the bus and swallows failures:
// events reflect state already committed to the database, so a down bus
// must never fail the request that produced them.
func (a *API) publishJSON(subject string, payload map[string]any) {
	if a.store.Bus == nil || subject == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = a.store.Bus.Publish(ctx, subject, payload)
}
