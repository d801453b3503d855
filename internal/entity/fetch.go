package entity

import "time"

// URLStatus is the cached outcome of fetching a URL.
type URLStatus struct {
	Status    int
	CheckedAt time.Time
}

// FetchResult is the outcome of one HTTP request. Body is nil when it was
// not requested or the request failed.
type FetchResult struct {
	Status int
	Body   []byte
}
