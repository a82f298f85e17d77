package logging

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/loremaster/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const redacted = "[REDACTED]"

// sensitiveKeys are field names whose values never reach an output.
var sensitiveKeys = map[string]bool{
	"api_key":       true,
	"apikey":        true,
	"authorization": true,
	"dsn":           true,
	"mongo_uri":     true,
	"password":      true,
	"redis_url":     true,
	"secret":        true,
	"token":         true,
}

// sensitiveValues match credentials that show up under innocent keys,
// typically inside an error message.
var sensitiveValues = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[a-z0-9._~+/-]{8,}`),
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{16,}`),
	regexp.MustCompile(`AIza[0-9A-Za-z_-]{30,}`),
	regexp.MustCompile(`://[^/\s:@]+:[^/\s@]+@`),
}

// Secret logs a config secret as its length only.
func Secret(key string, val config.Secret) zap.Field {
	return RedactedString(key, val.Value())
}

// RedactedString logs val as its length only.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

func isSensitiveKey(key string) bool {
	return sensitiveKeys[strings.ToLower(key)]
}

func redactValue(val string) (string, bool) {
	for _, re := range sensitiveValues {
		if re.MatchString(val) {
			return re.ReplaceAllString(val, redacted), true
		}
	}
	return val, false
}

// redactingEncoder scrubs sensitive fields before they are encoded, both
// for fields added with Logger.With and for fields passed per entry.
type redactingEncoder struct {
	zapcore.Encoder
}

func newRedactingEncoder(base zapcore.Encoder) zapcore.Encoder {
	return &redactingEncoder{Encoder: base}
}

func (e *redactingEncoder) Clone() zapcore.Encoder {
	return &redactingEncoder{Encoder: e.Encoder.Clone()}
}

func (e *redactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if v, ok := redactValue(ent.Message); ok {
		ent.Message = v
	}
	scrubbed := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		scrubbed[i] = scrubField(f)
	}
	return e.Encoder.EncodeEntry(ent, scrubbed)
}

func scrubField(f zapcore.Field) zapcore.Field {
	if isSensitiveKey(f.Key) {
		return zap.String(f.Key, redacted)
	}
	switch f.Type {
	case zapcore.StringType:
		if v, ok := redactValue(f.String); ok {
			return zap.String(f.Key, v)
		}
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok {
			if v, ok := redactValue(err.Error()); ok {
				return zap.String(f.Key, v)
			}
		}
	}
	return f
}

func (e *redactingEncoder) AddString(key, val string) {
	if isSensitiveKey(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	if v, ok := redactValue(val); ok {
		val = v
	}
	e.Encoder.AddString(key, val)
}

func (e *redactingEncoder) AddReflected(key string, val interface{}) error {
	if isSensitiveKey(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *redactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if isSensitiveKey(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}
