package scraper

import (
	"errors"
	"fmt"

	"github.com/bookprices/crawler/internal/bookprice"
)

// Fault is a scrape failure carrying the reason that gets recorded in the
// failure log. Transport problems, selector misses and unparseable price
// text each map to a distinct reason so the cleanup logic can tell why a
// store stopped working.
type Fault struct {
	Reason bookprice.FailedReason
	Err    error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return string(f.Reason)
	}
	return fmt.Sprintf("%s: %v", f.Reason, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

func faultf(reason bookprice.FailedReason, format string, args ...any) *Fault {
	return &Fault{Reason: reason, Err: fmt.Errorf(format, args...)}
}

// ReasonOf extracts the failure reason from an error chain. Errors with no
// Fault are transport-level and classified as connection errors.
func ReasonOf(err error) bookprice.FailedReason {
	var f *Fault
	if errors.As(err, &f) {
		return f.Reason
	}
	return bookprice.ReasonConnectionError
}
