package sessionreaper

import "time"

type (
	// Sessions closes tracking sessions whose page went quiet
	Sessions interface {
		CloseIdle(idle time.Duration) int
		Count() int
	}
)
