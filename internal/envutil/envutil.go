package envutil

import (
	"os"
	"strings"
)

// IsDev reports whether the BFF runs in development mode. Cookies drop the
// Secure attribute there so the flow works over plain http://localhost.
func IsDev() bool {
	env := strings.ToLower(os.Getenv("EBO_BFF_ENV"))
	return env == "development" || env == "dev"
}

// SecureCookies reports whether cookies must carry the Secure attribute.
func SecureCookies() bool {
	return !IsDev()
}
