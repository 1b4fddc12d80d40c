package google

import (
	"errors"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	appErrors "github.com/dvlab/dvlab-api/pkg/errors"
)

// IsAuthExpired reports whether err carries an HTTP 401 from the provider or the app.
func IsAuthExpired(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
		return true
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode == http.StatusUnauthorized {
		return true
	}

	// errors.As stops at the first *appErrors.Error, so walk the chain for a 401 further down.
	for e := err; e != nil; e = errors.Unwrap(e) {
		if appErr, ok := e.(*appErrors.Error); ok && appErr.Status == http.StatusUnauthorized {
			return true
		}
	}
	return false
}
