package delivery

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// LogDeliverer writes messages to the application log. It is the development
// default when no external channel is configured.
type LogDeliverer struct {
	logger *zap.Logger
}

// NewLogDeliverer constructs a log-backed deliverer.
func NewLogDeliverer(logger *zap.Logger) *LogDeliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogDeliverer{logger: logger}
}

// Deliver logs the message for the address.
func (d *LogDeliverer) Deliver(_ context.Context, address, message string) error {
	if strings.TrimSpace(address) == "" {
		return fmt.Errorf("log delivery: empty address")
	}
	d.logger.Info("message delivered", zap.String("address", address), zap.String("message", message))
	return nil
}
