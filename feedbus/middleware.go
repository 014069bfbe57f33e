package feedbus

// Middleware intercepts messages before and after fan-out for cross-cutting
// concerns (logging, metrics). Before may replace the message or veto it by
// returning nil.
type Middleware interface {
	Before(msg Message) (Message, error)
	After(msg Message, delivered int)
}

// Logger is the minimal structured logger the bus middleware depends on.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
}

// LoggingMiddleware logs all feed traffic at debug level.
type LoggingMiddleware struct {
	logger Logger
}

// NewLoggingMiddleware creates a LoggingMiddleware.
func NewLoggingMiddleware(logger Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

// Before logs message receipt.
func (m *LoggingMiddleware) Before(msg Message) (Message, error) {
	if m.logger != nil {
		m.logger.Debug("feed_message", "job_id", msg.JobID(), "kind", string(msg.Kind()))
	}
	return msg, nil
}

// After logs fan-out size.
func (m *LoggingMiddleware) After(msg Message, delivered int) {
	if m.logger != nil {
		m.logger.Debug("feed_delivered", "job_id", msg.JobID(), "kind", string(msg.Kind()), "subscribers", delivered)
	}
}

// FuncMiddleware adapts a pair of functions to the Middleware interface.
// Either may be nil.
type FuncMiddleware struct {
	BeforeFunc func(msg Message) (Message, error)
	AfterFunc  func(msg Message, delivered int)
}

// Before implements Middleware.
func (m *FuncMiddleware) Before(msg Message) (Message, error) {
	if m.BeforeFunc == nil {
		return msg, nil
	}
	return m.BeforeFunc(msg)
}

// After implements Middleware.
func (m *FuncMiddleware) After(msg Message, delivered int) {
	if m.AfterFunc != nil {
		m.AfterFunc(msg, delivered)
	}
}
