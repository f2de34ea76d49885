package domain

import "github.com/pkg/errors"

var (
	// ErrNotFound means no record exists for the identifier, locally or upstream.
	ErrNotFound = errors.New("not found")

	// ErrUpstream wraps network failures and non-2xx responses from an external provider.
	ErrUpstream = errors.New("upstream unavailable")

	// ErrIsAnime is returned by the movie and series lookups when the title is
	// classified as anime and has to be requested through the anime endpoints.
	ErrIsAnime = errors.New("title is classified as anime")

	// ErrNotAvailable is returned when a cache-only view has never been computed.
	ErrNotAvailable = errors.New("not yet available")

	// ErrInvalid marks a request parameter that cannot be used as given.
	ErrInvalid = errors.New("invalid argument")

	ErrCacheMiss = errors.New("cache miss")
)
