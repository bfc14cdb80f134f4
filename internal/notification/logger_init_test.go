package notification

import "merchpulse.io/pulse/internal/pkg/logger"

func init() {
	_ = logger.Init("error", "json")
}
