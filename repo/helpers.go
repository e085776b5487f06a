// Package repo implements the typed persistence operations (spec
// component C4) above dbexec.Executor: one repository type per
// aggregate (Upload, Certificate, CRL, ValidationResult, MasterList,
// DeviationList, User, AuthAudit, LdifStructure), each enforcing the
// invariants spec section 3 calls out (unique file hash, unique
// (type, fingerprint) pair, append-only audit).
//
// Every query projects UUID and timestamp columns explicitly
// (id::text, created_at) and binds UUID parameters with an explicit
// ::uuid cast, so rows always come back as the plain Go types the
// rest of the core already works with.
package repo

import (
	"fmt"
	"time"
)

func rowString(row map[string]any, col string) string {
	v, ok := row[col]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func rowInt(row map[string]any, col string) int {
	v, ok := row[col]
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func rowInt64(row map[string]any, col string) int64 {
	v, ok := row[col]
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func rowBool(row map[string]any, col string) bool {
	v, ok := row[col]
	if !ok || v == nil {
		return false
	}
	b, _ := v.(bool)
	return b
}

func rowBytes(row map[string]any, col string) []byte {
	v, ok := row[col]
	if !ok || v == nil {
		return nil
	}
	b, _ := v.([]byte)
	return b
}

func rowTime(row map[string]any, col string) time.Time {
	v, ok := row[col]
	if !ok || v == nil {
		return time.Time{}
	}
	t, _ := v.(time.Time)
	return t
}

func rowTimePtr(row map[string]any, col string) *time.Time {
	v, ok := row[col]
	if !ok || v == nil {
		return nil
	}
	t, ok := v.(time.Time)
	if !ok {
		return nil
	}
	return &t
}
