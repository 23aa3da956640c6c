package session

import "go.uber.org/zap"

// Notifier receives user-facing messages. Implementations must be safe for
// concurrent use; background saves report from their own goroutines.
type Notifier interface {
	Info(msg string)
	Warn(msg string)
}

type logNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a Notifier that writes messages to the logger.
func NewLogNotifier(logger *zap.Logger) Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logNotifier{logger: logger.Named("notify")}
}

func (n logNotifier) Info(msg string) { n.logger.Info(msg) }

func (n logNotifier) Warn(msg string) { n.logger.Warn(msg) }
