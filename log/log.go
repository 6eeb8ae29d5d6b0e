package log

import (
	"fmt"
	"io"
	"log"
	"runtime/debug"
	"strings"
)

const (
	LDebug    = 1
	LInfo     = 1 << 1
	LWarn     = 1 << 2
	LError    = 1 << 3
	LCritical = 1 << 4
)

var (
	gLogLevel = LInfo
)

func init() {
	InitLogger(LInfo)
}

func InitLogger(logLevel int) {
	SetLogLevel(logLevel)
	if gLogLevel <= LDebug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	} else {
		log.SetFlags(log.LstdFlags)
	}
}

func SetLogLevel(logLevel int) {
	switch logLevel {
	case LDebug, LInfo, LWarn, LError, LCritical:
		gLogLevel = logLevel
	default:
		gLogLevel = LInfo
	}
}

// SetOutput redirects every message, mostly used to silence tests.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

func Level() int {
	return gLogLevel
}

func logMessage(prefix string, i ...interface{}) {
	format := fmt.Sprintf("%s%s", prefix, strings.TrimSuffix(strings.Repeat("%v ", len(i)), " "))
	msg := fmt.Sprintf(format, i...)
	_ = log.Output(3, msg)
}

func Debug(i ...interface{}) {
	if gLogLevel <= LDebug {
		logMessage("DEBUG - ", i...)
	}
}

func Debugf(format string, i ...interface{}) {
	if gLogLevel <= LDebug {
		logMessage("DEBUG - ", fmt.Sprintf(format, i...))
	}
}

func Info(i ...interface{}) {
	if gLogLevel <= LInfo {
		logMessage("INFO - ", i...)
	}
}

func Infof(format string, i ...interface{}) {
	if gLogLevel <= LInfo {
		logMessage("INFO - ", fmt.Sprintf(format, i...))
	}
}

func Warnf(format string, i ...interface{}) {
	if gLogLevel <= LWarn {
		logMessage("WARNING - ", fmt.Sprintf(format, i...))
	}
}

func Error(i ...interface{}) {
	if gLogLevel <= LError {
		logMessage("ERROR - ", i...)
	}
}

func Errorf(format string, i ...interface{}) {
	if gLogLevel <= LError {
		logMessage("ERROR - ", fmt.Sprintf(format, i...))
	}
}

func Criticalf(format string, i ...interface{}) {
	if gLogLevel <= LCritical {
		logMessage("CRITICAL - ", fmt.Sprintf(format, i...))
	}
}

// DontPanicf logs a message with the current stack, used where the decoder
// recovers from a state that should not happen.
func DontPanicf(format string, i ...interface{}) {
	msg := fmt.Sprintf("%v\n %s", fmt.Sprintf(format, i...), debug.Stack())
	logMessage("PANIC - ", msg)
}
