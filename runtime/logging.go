package runtime

import (
	"bytes"
	"fmt"

	"github.com/sirupsen/logrus"
)

// lineFormatter reproduces original_source/Source/Logging.h's
// "(Pixy) <Level>: <file>:<line>: <message>\n" line shape on top of
// logrus, renamed to this runtime's own name. Using logrus instead of
// the C original's raw fprintf(stderr, ...) plus a hand-rolled atomic
// level gate follows the never-fall-back-to-stdlib rule: several pack
// repos import logrus directly for exactly this kind of levelled,
// line-oriented logging.
type lineFormatter struct{}

func (lineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("(fiberio) ")
	buf.WriteString(levelTag(e.Level))
	buf.WriteString(": ")
	if file, ok := e.Data["file"]; ok {
		if line, ok := e.Data["line"]; ok {
			fmt.Fprintf(&buf, "%v:%v: ", file, line)
		}
	}
	buf.WriteString(e.Message)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func levelTag(l logrus.Level) string {
	switch l {
	case logrus.DebugLevel, logrus.TraceLevel:
		return "Debug"
	case logrus.InfoLevel:
		return "Information"
	case logrus.WarnLevel:
		return "Warning"
	case logrus.ErrorLevel:
		return "Error"
	default:
		return "FatalError"
	}
}

// NewLogger creates a logrus.Logger using the fiberio line format. The
// caller supplies file/line via WithFields(logrus.Fields{"file": ..., "line": ...})
// at each call site that wants source attribution, matching the C
// macro's use of __FILE__/__LINE__ (Go has no compile-time equivalent
// outside runtime.Caller, which callers may add via a hook if desired).
func NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(lineFormatter{})
	log.SetLevel(logrus.InfoLevel)
	return log
}
