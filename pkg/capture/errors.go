package capture

import "errors"

var (
	ErrConnectFailed   = errors.New("failed to connect to bus")
	ErrSubscribeFailed = errors.New("failed to subscribe")
	ErrMalformedTopic  = errors.New("malformed topic")
	ErrShutdownTimeout = errors.New("shutdown timed out")
)
