package handlers

import "merchpulse.io/pulse/internal/pkg/logger"

func init() {
	_ = logger.Init("error", "json")
}
