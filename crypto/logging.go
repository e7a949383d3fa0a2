package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/sirupsen/logrus"
)

const fieldHashLength = 8

// LoggerHelper carries the standard fields used by the ZRTP packages:
// package, function and, once known, the stream the event belongs to.
type LoggerHelper struct {
	fields logrus.Fields
}

// NewLogger creates a logger helper for one function of one package.
func NewLogger(pkg, function string) *LoggerHelper {
	return &LoggerHelper{
		fields: logrus.Fields{
			"package":  pkg,
			"function": function,
		},
	}
}

// WithField adds a custom field.
func (l *LoggerHelper) WithField(key string, value interface{}) *LoggerHelper {
	l.fields[key] = value
	return l
}

// WithFields adds several custom fields.
func (l *LoggerHelper) WithFields(fields logrus.Fields) *LoggerHelper {
	for k, v := range fields {
		l.fields[k] = v
	}
	return l
}

// WithError records an error together with the operation that failed.
func (l *LoggerHelper) WithError(err error, operation string) *LoggerHelper {
	if err != nil {
		l.fields["error"] = err.Error()
	}
	l.fields["operation"] = operation
	return l
}

// WithSecret adds a digest of key material; see SecureFieldHash.
func (l *LoggerHelper) WithSecret(name string, data []byte) *LoggerHelper {
	return l.WithFields(SecureFieldHash(data, name))
}

// Debug logs a debug message.
func (l *LoggerHelper) Debug(message string) { logrus.WithFields(l.fields).Debug(message) }

// Info logs an info message.
func (l *LoggerHelper) Info(message string) { logrus.WithFields(l.fields).Info(message) }

// Warn logs a warning message.
func (l *LoggerHelper) Warn(message string) { logrus.WithFields(l.fields).Warn(message) }

// Error logs an error message.
func (l *LoggerHelper) Error(message string) { logrus.WithFields(l.fields).Error(message) }

// SecureFieldHash identifies sensitive data in logs by a truncated SHA-256
// digest and its length. No byte of the data itself is logged.
func SecureFieldHash(data []byte, name string) logrus.Fields {
	digest := "nil"
	if len(data) > 0 {
		sum := sha256.Sum256(data)
		digest = hex.EncodeToString(sum[:fieldHashLength])
	}

	return logrus.Fields{
		name + "_hash": digest,
		name + "_size": len(data),
	}
}
