package repository

import (
	"context"

	"github.com/user/audit-service/internal/entity"
)

// Fetcher defines the contract for retrieving a URL over HTTP.
type Fetcher interface {
	// Fetch requests url. When wantBody is false only the status is
	// retrieved. Transport failures are reported as status
	// entity.StatusFetchFailed, never as an error.
	Fetch(ctx context.Context, url string, wantBody bool) entity.FetchResult
}
