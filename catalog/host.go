package catalog

import "net/url"

// extractHost returns the host:port portion of a provider's api_host, used
// as the "physical box" key by first_available_optim (spec.md §3, §4.3.5).
// Malformed URLs fall back to the raw string so a bad host still groups
// consistently rather than panicking mid-request.
func extractHost(apiHost string) string {
	u, err := url.Parse(apiHost)
	if err != nil || u.Host == "" {
		return apiHost
	}
	return u.Host
}
