package pipeline

import "fmt"

// FetchErrorKind classifies fetch failures for retry and job-outcome
// decisions.
type FetchErrorKind string

// Fetch failure kinds. Network and timeout failures are transient and
// retryable; blocked and parse failures are terminal for the target.
const (
	FetchNetwork FetchErrorKind = "network"
	FetchBlocked FetchErrorKind = "blocked"
	FetchTimeout FetchErrorKind = "timeout"
	FetchParse   FetchErrorKind = "parse"
)

// FetchError is the typed failure returned by a Fetcher after exhausting its
// retry budget.
type FetchError struct {
	Kind FetchErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth an automatic job retry.
func (e *FetchError) Transient() bool {
	return e.Kind == FetchNetwork || e.Kind == FetchTimeout
}

// ExtractionError reports a mandatory schema field that could not be located.
// The page structure, not the network, is presumed at fault, so jobs failing
// on extraction are never retried automatically.
type ExtractionError struct {
	Field  string
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract field %q: %s", e.Field, e.Reason)
}

// ValidationError rejects bad submission parameters before any I/O happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StoreError wraps a repository write failure.
type StoreError struct {
	Kind string
	Key  string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s/%s: %v", e.Kind, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
