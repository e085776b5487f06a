// Package pkdlog provides the structured audit logger shared by every
// long-lived collaborator in the ingestion core, generalizing
// Boulder's blog.AuditLogger (injected as a field on ca.CertificateAuthorityImpl,
// sa.SQLStorageAuthority, etc.) onto go.uber.org/zap.
package pkdlog

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// scrubPatterns catches the three credential shapes spec section 9
// calls out: "password=...", "://user:pass@...", and the JSON
// "password":"..." form.
var scrubPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)password=[^&\s]+`),
	regexp.MustCompile(`://[^:/@\s]+:[^@/\s]+@`),
	regexp.MustCompile(`(?i)"password"\s*:\s*"[^"]*"`),
}

// Scrub redacts any substring of msg that looks like it carries a
// credential. The logger built by New applies it to every entry's
// message and to its string and error fields before they reach a sink;
// fields attached once through Logger.With are passed through unchanged.
func Scrub(msg string) string {
	out := msg
	out = scrubPatterns[0].ReplaceAllString(out, "password=[REDACTED]")
	out = scrubPatterns[1].ReplaceAllStringFunc(out, func(m string) string {
		idx := strings.LastIndex(m, "@")
		return "://[REDACTED]" + m[idx:]
	})
	out = scrubPatterns[2].ReplaceAllString(out, `"password":"[REDACTED]"`)
	return out
}

// scrubCore wraps a zapcore.Core so every encoded entry passes through
// Scrub first.
type scrubCore struct {
	zapcore.Core
}

func (c scrubCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = Scrub(entry.Message)
	for i, f := range fields {
		switch f.Type {
		case zapcore.StringType:
			fields[i].String = Scrub(f.String)
		case zapcore.ErrorType:
			if err, ok := f.Interface.(error); ok {
				fields[i] = zap.String(f.Key, Scrub(err.Error()))
			}
		}
	}
	return c.Core.Write(entry, fields)
}

// Check lets the wrapped core make its level and sampling decision,
// then registers scrubCore itself so that Write above is the one called.
func (c scrubCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Core.Check(entry, nil) != nil {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c scrubCore) With(fields []zapcore.Field) zapcore.Core {
	return scrubCore{c.Core.With(fields)}
}

// New builds the process-wide structured logger. service names the
// component (matching Boulder's per-command "Certificate Authority
// Starting" notices) and is attached as a constant field.
func New(service string, development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	logger, err := cfg.Build(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return scrubCore{core}
	}))
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", service)), nil
}

// Nop returns a logger that discards everything, for use in tests.
func Nop() *zap.Logger {
	return zap.NewNop()
}
