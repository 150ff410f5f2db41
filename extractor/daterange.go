package extractor

import (
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// resolveRelativeDate evaluates expr as a JavaScript expression against a
// bound `now` (milliseconds since epoch) and returns the resulting date.
// This is the fallback path for start_date when the model, despite being
// instructed to emit ISO dates, instead emits a relative JS expression
// (e.g. "new Date(now + 7*86400000)"). Models drift into that shape often
// enough that evaluating the expression beats failing the turn over it.
func resolveRelativeDate(expr string, now time.Time) (time.Time, error) {
	vm := goja.New()
	if err := vm.Set("now", now.UnixMilli()); err != nil {
		return time.Time{}, fmt.Errorf("resolveRelativeDate: bind now: %w", err)
	}

	val, err := vm.RunString(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("resolveRelativeDate: eval %q: %w", expr, err)
	}

	exported := val.Export()
	switch v := exported.(type) {
	case time.Time:
		return v, nil
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, nil
		}
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t, nil
		}
	case int64:
		return time.UnixMilli(v), nil
	}
	return time.Time{}, fmt.Errorf("resolveRelativeDate: expression %q did not yield a date", expr)
}
