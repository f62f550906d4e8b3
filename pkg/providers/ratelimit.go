package providers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gustausantin/La-ia-app-sub001/pkg/httpclient"
)

// DefaultRetryAfter is the pause applied after a 429 that carries no usable
// Retry-After header.
const DefaultRetryAfter = time.Minute

// retryAfter returns how long the provider asked us to wait, or zero when resp
// is not a 429. Retry-After is honoured in both its seconds and HTTP-date forms.
func retryAfter(resp *httpclient.Response) time.Duration {
	if resp.StatusCode != http.StatusTooManyRequests {
		return 0
	}
	raw := strings.TrimSpace(resp.Headers["Retry-After"])
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return DefaultRetryAfter
}
