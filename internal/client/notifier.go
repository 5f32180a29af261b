package client

import "go.uber.org/zap"

// Reasons reported alongside the server's rejection codes.
const (
	ReasonLoggedOut    = "LOGGED_OUT"
	ReasonRemoteLogout = "REMOTE_LOGOUT"
)

// Notifier surfaces session events to the user.
type Notifier interface {
	// SessionEnded is called once the local credential is gone. reason is a
	// server rejection code or one of the Reason constants.
	SessionEnded(reason string)
	// Warn reports a recoverable problem, such as a failed background refresh.
	Warn(message string)
}

// LogNotifier writes notices to a zap logger.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) SessionEnded(reason string) {
	n.Logger.Info("session ended", zap.String("reason", reason))
}

func (n LogNotifier) Warn(message string) {
	n.Logger.Warn(message)
}
