package reliability

// IsRetryableHTTPStatus classifies retryable HTTP status codes seen on
// websocket handshake rejections.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableUpstreamCode classifies retryable error codes carried in
// upstream synthesis error frames.
func IsRetryableUpstreamCode(code string) bool {
	switch code {
	case "rate_limited", "resource_exhausted", "queue_overflow", "upstream_error":
		return true
	default:
		return false
	}
}
