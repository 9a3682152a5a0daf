package audit

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"reflect"
	"strings"
	"time"
)

const calendarDay = "2006-01-02"

// dateLayouts are the string shapes treated as dates when comparing values.
// Only the calendar day is compared so that a driver returning a timestamp and
// a form posting a plain date do not register as a change.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	calendarDay,
}

// Diff returns the names of fields whose values differ between two snapshots.
// Keys are visited in first-seen order: before's keys, then keys only present
// in after. A key present on one side only is always reported, even when the
// other side would be null. Nil snapshots are treated as empty.
func Diff(before, after *Snapshot) []string {
	changed := make([]string, 0)
	for _, key := range unionKeys(before, after) {
		bv, bok := before.Get(key)
		av, aok := after.Get(key)
		if bok != aok {
			changed = append(changed, key)
			continue
		}
		if !sameValue(bv, av) {
			changed = append(changed, key)
		}
	}
	return changed
}

func unionKeys(before, after *Snapshot) []string {
	keys := before.Keys()
	seen := make(map[string]struct{}, len(keys)+after.Len())
	for _, k := range keys {
		seen[k] = struct{}{}
	}
	for _, k := range after.Keys() {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}

// KeyUnion returns the keys of both snapshots in the order Diff visits them.
func KeyUnion(before, after *Snapshot) []string {
	return unionKeys(before, after)
}

func sameValue(a, b any) (same bool) {
	defer func() {
		// encoding reached something it could not handle; call it changed
		if r := recover(); r != nil {
			same = false
		}
	}()
	return sameEncoding(normalize(a), normalize(b))
}

func sameEncoding(a, b any) bool {
	ea, errA := json.Marshal(a)
	eb, errB := json.Marshal(b)
	if errA == nil && errB == nil {
		return bytes.Equal(ea, eb)
	}
	return sameIdentity(a, b)
}

// sameIdentity is the fallback for values that have no JSON form, such as
// channels, funcs or cyclic structures.
func sameIdentity(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Pointer, reflect.UnsafePointer:
		if va.Kind() == reflect.Slice && va.Len() != vb.Len() {
			return false
		}
		return va.Pointer() == vb.Pointer()
	}
	if va.Type().Comparable() {
		return a == b
	}
	return false
}

// normalize reduces date-like values to a UTC YYYY-MM-DD string. Null
// time wrappers become nil so they compare equal to an explicit null.
func normalize(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(calendarDay)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(calendarDay)
	case sql.NullTime:
		if !t.Valid {
			return nil
		}
		return t.Time.UTC().Format(calendarDay)
	case string:
		if day, ok := parseDateString(t); ok {
			return day
		}
	}
	return v
}

func parseDateString(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) < len(calendarDay) || s[4] != '-' || s[7] != '-' {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(calendarDay), true
		}
	}
	return "", false
}
