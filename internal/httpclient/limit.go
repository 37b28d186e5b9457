package httpclient

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ResponseTooLargeError reports a response body larger than the caller
// accepts.
type ResponseTooLargeError struct {
	URL   string
	Limit int64
}

func (e *ResponseTooLargeError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("response body exceeded %d bytes", e.Limit)
	}
	return fmt.Sprintf("response from %s exceeded %d bytes", e.URL, e.Limit)
}

// IsResponseTooLarge reports whether err wraps a ResponseTooLargeError.
func IsResponseTooLarge(err error) bool {
	var tooLarge *ResponseTooLargeError
	return errors.As(err, &tooLarge)
}

// ReadBody reads at most limit bytes of resp.Body and closes it. A limit of
// zero or less reads everything. An oversized body is discarded so the
// connection can be reused.
func ReadBody(resp *http.Response, limit int64) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, nil
	}
	defer resp.Body.Close()
	if limit <= 0 {
		return io.ReadAll(resp.Body)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		_, _ = io.Copy(io.Discard, resp.Body)
		tooLarge := &ResponseTooLargeError{Limit: limit}
		if resp.Request != nil && resp.Request.URL != nil {
			tooLarge.URL = resp.Request.URL.Redacted()
		}
		return nil, tooLarge
	}
	return data, nil
}
