package credentials

import "fmt"

// ValidationError is returned synchronously by Get when the endpoint URL is
// not usable. No cache state is read or created for an invalid URL.
type ValidationError struct {
	URL string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid credential endpoint %q: must be an http or https URL", e.URL)
}

// FetchError is the failure delivered through a Result when the Fetcher could
// not retrieve credentials. The underlying error is available via Unwrap.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("credential fetch from %q failed: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
