package server

import "net/http"

// copyResponseHeaders copies upstream response headers onto the client
// response, dropping hop-by-hop headers (per RFC 9110). Values are appended
// so headers already set on dst, such as a fresh session cookie, survive.
func copyResponseHeaders(dst, src http.Header) {
	for k, v := range src {
		switch k {
		case "Connection", "Keep-Alive", "Transfer-Encoding", "TE", "Trailer",
			"Upgrade", "Proxy-Authenticate", "Proxy-Connection":
			continue
		}
		for _, value := range v {
			dst.Add(k, value)
		}
	}
}
