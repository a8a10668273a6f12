package rendercoord

import (
	"time"

	"github.com/renderd/renderd/internal/trigger"
)

func millisToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func triggerKind(s string) trigger.Kind {
	if s == "" {
		return ""
	}
	return trigger.Kind(s)
}
