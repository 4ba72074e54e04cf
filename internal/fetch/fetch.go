// Package fetch implements the crawl collaborator: retrieve a source page,
// strip it down to readable content, and hand the ingestion worker a
// markdown-ish document with code fences preserved.
package fetch

import "fmt"

// FetchError reports a failed retrieval. It is retryable: workers route it
// into the queue's backoff path rather than treating it as fatal.
type FetchError struct {
	URL    string
	Reason string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Reason, e.Err)
	}

	return fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
}

func (e *FetchError) Unwrap() error { return e.Err }
