package log

// Logger is the logger interface.
type Logger interface {
	// Debug for debug priority logging. APDU traffic and protocol decoding
	// details.
	Debug(v ...interface{})
	// Info for info priority logging. Connection lifecycle, policy loads and
	// certificate issuance.
	Info(v ...interface{})
	// Notice for notice priority logging. Changes in state that do not
	// necessarily cause service degradation.
	Notice(v ...interface{})
	// Warning for warning priority logging. Fail-closed fallbacks and protocol
	// errors reported by the card.
	Warning(v ...interface{})
	// Error for error priority logging.
	Error(v ...interface{})
}
