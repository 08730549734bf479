package logger

// log level strings
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

// custom error fields
const (
	lineOfCode = "loc"
)
