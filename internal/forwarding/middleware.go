package forwarding

import (
	"log"
	"net/http"
	"path"
	"regexp"
	"strconv"

	"github.com/litefs-adapter/core/pkg/ports"
)

// SplitBrainMiddleware blocks every request with 503 and Retry-After: 30
// while split-brain is observed, ahead of any forwarding decision, per the
// §4.8 middleware-ordering rule: forwarding must never be attempted during
// split-brain. Detection failures are fail-open here (request proceeds,
// error logged) — the opposite of the write-path guard's fail-closed
// policy, since this middleware guards availability, not correctness.
func SplitBrainMiddleware(detector ports.SplitBrainDetector, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if detector == nil {
			next.ServeHTTP(w, r)
			return
		}

		event, err := detector.Check(r.Context())
		if err != nil {
			log.Printf("forwarding: split-brain detector unreachable, allowing request through: %v", err)
			next.ServeHTTP(w, r)
			return
		}
		if event != nil {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"split-brain detected, writes are fenced until resolved"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// exclusionMatcher implements the path-exclusion rule from §4.8: exact,
// glob, and regex patterns evaluated in that order, first match wins.
type exclusionMatcher struct {
	exact []string
	glob  []string
	regex []*regexp.Regexp
}

func newExclusionMatcher(exact, glob, regexPatterns []string) (*exclusionMatcher, error) {
	m := &exclusionMatcher{exact: exact, glob: glob}
	for _, p := range regexPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		m.regex = append(m.regex, re)
	}
	return m, nil
}

func (m *exclusionMatcher) excluded(requestPath string) bool {
	for _, e := range m.exact {
		if requestPath == e {
			return true
		}
	}
	for _, g := range m.glob {
		if ok, err := path.Match(g, requestPath); err == nil && ok {
			return true
		}
	}
	for _, re := range m.regex {
		if re.MatchString(requestPath) {
			return true
		}
	}
	return false
}

// retryAfterSeconds formats a remaining time in seconds as the whole-second
// Retry-After value of the breaker-open response, rounding up.
func retryAfterSeconds(remaining float64) string {
	secs := int(remaining + 0.999999)
	if secs < 0 {
		secs = 0
	}
	return strconv.Itoa(secs)
}
