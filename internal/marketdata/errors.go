package marketdata

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNoData matches any NoDataError.
	ErrNoData = errors.New("no data")
	// ErrUnsupported matches any UnsupportedOperationError.
	ErrUnsupported = errors.New("unsupported operation")
)

// UpstreamError reports a transport failure, a non-2xx status, a malformed
// payload or a failure status embedded in the provider body.
type UpstreamError struct {
	Provider   ProviderName
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: upstream status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NoDataError is returned when a provider answered but yielded zero usable points.
type NoDataError struct {
	Provider ProviderName
	Symbol   string
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("%s: no data for %s", e.Provider, e.Symbol)
}

func (e *NoDataError) Is(target error) bool { return target == ErrNoData }

// UnsupportedOperationError marks a capability the adapter does not implement.
type UnsupportedOperationError struct {
	Provider ProviderName
	Op       string
	Reason   string
}

func (e *UnsupportedOperationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s not supported", e.Provider, e.Op)
	}
	return fmt.Sprintf("%s: %s not supported: %s", e.Provider, e.Op, e.Reason)
}

func (e *UnsupportedOperationError) Is(target error) bool { return target == ErrUnsupported }

// AllSourcesFailedError is raised once the preferred source and the whole
// fallback chain have failed.
type AllSourcesFailedError struct {
	Op        string
	Symbol    string
	Attempted []ProviderName
	Errors    map[ProviderName]error
}

func (e *AllSourcesFailedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all data sources failed to %s", e.Op)
	if e.Symbol != "" {
		fmt.Fprintf(&b, " for %s", e.Symbol)
	}
	if len(e.Attempted) == 0 {
		b.WriteString(": no enabled source")
		return b.String()
	}
	parts := make([]string, 0, len(e.Attempted))
	for _, name := range e.Attempted {
		if err := e.Errors[name]; err != nil {
			parts = append(parts, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(parts) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap exposes the per-provider errors to errors.Is / errors.As.
func (e *AllSourcesFailedError) Unwrap() []error {
	names := make([]string, 0, len(e.Errors))
	for name := range e.Errors {
		names = append(names, string(name))
	}
	sort.Strings(names)
	out := make([]error, 0, len(names))
	for _, name := range names {
		out = append(out, e.Errors[ProviderName(name)])
	}
	return out
}
