package bridge

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HostScheme is the custom URL scheme the host serves local plugin bundles from.
const HostScheme = "chips"

// OpaqueOrigin is how an origin without a serializable form is reported
// (sandboxed frames without allow-same-origin, file and data URLs).
const OpaqueOrigin = "null"

// WildcardTarget is the target origin used when the plugin origin is opaque.
const WildcardTarget = "*"

const (
	hostSchemePrefix = HostScheme + "://"
	fileSchemePrefix = "file://"
)

// GenerateSessionNonce returns a fresh opaque session token. It is a random
// UUID when the system random source works, otherwise a timestamp plus
// whatever randomness could be read.
func GenerateSessionNonce() string {
	id, err := uuid.NewRandom()
	if err == nil {
		return id.String()
	}
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("%x-%s", time.Now().UnixNano(), hex.EncodeToString(buf[:]))
}

// ResolveTrustedOrigin resolves entryURL against documentURL (the host
// document location, may be empty) and returns the origin of the result.
// ok is false when either URL cannot be parsed or the result is not absolute.
func ResolveTrustedOrigin(entryURL, documentURL string) (origin string, ok bool) {
	entry := strings.TrimSpace(entryURL)
	if entry == "" {
		return "", false
	}
	ref, err := url.Parse(entry)
	if err != nil {
		return "", false
	}
	if documentURL != "" {
		base, err := url.Parse(documentURL)
		if err != nil {
			return "", false
		}
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme == "" {
		return "", false
	}
	return OriginOf(ref), true
}

// OriginOf serializes the origin of an absolute URL.
func OriginOf(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "http", "https", "ws", "wss":
		host := strings.ToLower(u.Hostname())
		if host == "" {
			return OpaqueOrigin
		}
		port := u.Port()
		if port == "" || isDefaultPort(scheme, port) {
			return scheme + "://" + hostForOrigin(host)
		}
		return scheme + "://" + hostForOrigin(host) + ":" + port
	case HostScheme:
		return hostSchemePrefix + strings.ToLower(u.Host)
	case "file":
		return fileSchemePrefix
	default:
		return OpaqueOrigin
	}
}

func hostForOrigin(host string) string {
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}

func isDefaultPort(scheme, port string) bool {
	switch scheme {
	case "http", "ws":
		return port == "80"
	case "https", "wss":
		return port == "443"
	}
	return false
}

// IsTrustedOrigin reports whether a message origin matches the session's
// trusted origin. An empty trusted origin means no session and never matches.
//
// Opaque origins are reported as "null" by sandboxed and local content, so a
// "null" session accepts "null", chips:// and file:// senders, and a chips://
// or file:// session accepts a "null" sender.
func IsTrustedOrigin(candidate, trusted string) bool {
	if trusted == "" {
		return false
	}
	if trusted == OpaqueOrigin {
		return candidate == OpaqueOrigin ||
			strings.HasPrefix(candidate, hostSchemePrefix) ||
			strings.HasPrefix(candidate, fileSchemePrefix)
	}
	if candidate == OpaqueOrigin &&
		(strings.HasPrefix(trusted, hostSchemePrefix) || strings.HasPrefix(trusted, fileSchemePrefix)) {
		return true
	}
	return candidate == trusted
}

// IsTrustedEnvelope reports whether msg carries string pluginId and
// sessionNonce fields exactly equal to the expected session values.
func IsTrustedEnvelope(msg map[string]any, expectedPluginID, expectedSessionNonce string) bool {
	pluginID, ok := msg[FieldPluginID].(string)
	if !ok {
		return false
	}
	sessionNonce, ok := msg[FieldSessionNonce].(string)
	if !ok {
		return false
	}
	return pluginID == expectedPluginID && sessionNonce == expectedSessionNonce
}

// TargetOriginFor picks the targetOrigin argument for posting to a plugin.
// Opaque origins cannot be addressed explicitly and fall back to the wildcard.
func TargetOriginFor(trusted string) string {
	if trusted == "" || trusted == OpaqueOrigin {
		return WildcardTarget
	}
	return trusted
}
