package ratelimit

import "net"

// Identity derives the rate limiting key for a request. Authenticated
// subjects are preferred, then an API key prefix, then the client IP.
// The prefixes keep the three sources from colliding in the store.
func Identity(subject, apiKey, remoteAddr string) string {
	if subject != "" {
		return "user:" + subject
	}
	if apiKey != "" {
		if len(apiKey) > 8 {
			apiKey = apiKey[:8]
		}
		return "key:" + apiKey
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		host = remoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return "ip:" + host
}
