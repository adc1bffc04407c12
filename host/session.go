package host

import "github.com/machinefabric/cardbridge-go/bridge"

// SessionContext is the active plugin session. The zero value means no
// session.
type SessionContext struct {
	PluginID          string
	SessionNonce      string
	TrustedOrigin     string
	Permissions       bridge.PermissionSet
	PermissionsLoaded bool
}

// Active reports whether a session is established.
func (s SessionContext) Active() bool {
	return s.SessionNonce != ""
}

// Identity returns the envelope identity of the session.
func (s SessionContext) Identity() bridge.Identity {
	return bridge.Identity{PluginID: s.PluginID, SessionNonce: s.SessionNonce}
}

// Clone returns a copy that shares nothing with s.
func (s SessionContext) Clone() SessionContext {
	out := s
	if s.Permissions != nil {
		out.Permissions = make(bridge.PermissionSet, len(s.Permissions))
		for p := range s.Permissions {
			out.Permissions[p] = struct{}{}
		}
	}
	return out
}
