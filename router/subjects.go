package router

import (
	"strings"

	"github.com/c360/networker/channel"
)

// DefaultNamespace prefixes every subject unless WithNamespace says otherwise
const DefaultNamespace = "networker"

// Subjects builds transport subjects for one namespace. All processes that
// talk to each other must agree on it.
type Subjects struct {
	Namespace string
}

func (s Subjects) ns() string {
	if s.Namespace == "" {
		return DefaultNamespace
	}
	return s.Namespace
}

func (s Subjects) channel(h channel.Handle) string {
	return s.ns() + "." + h.Kind.Prefix() + h.ID
}

// EventServer carries client to server events
func (s Subjects) EventServer(h channel.Handle) string {
	return s.channel(h) + ".server"
}

// EventPeer carries server to client events for one peer
func (s Subjects) EventPeer(h channel.Handle, peer channel.PeerID) string {
	return s.channel(h) + ".peer." + peer.String()
}

// EventAll carries broadcasts
func (s Subjects) EventAll(h channel.Handle) string {
	return s.channel(h) + ".all"
}

// FunctionServer carries client to server requests
func (s Subjects) FunctionServer(h channel.Handle) string {
	return s.channel(h) + ".server"
}

// FunctionPeer carries server to client requests for one peer
func (s Subjects) FunctionPeer(h channel.Handle, peer channel.PeerID) string {
	return s.channel(h) + ".peer." + peer.String()
}

// PresenceJoin carries peer join announcements
func (s Subjects) PresenceJoin() string {
	return s.ns() + ".presence.join"
}

// PresenceLeave carries peer leave announcements
func (s Subjects) PresenceLeave() string {
	return s.ns() + ".presence.leave"
}

// RegistryLookup is served by the server for clients using a remote folder
func (s Subjects) RegistryLookup() string {
	return s.ns() + ".registry.lookup"
}

// RegistryCreated carries new-handle announcements
func (s Subjects) RegistryCreated() string {
	return s.ns() + ".registry.created"
}

// ClientOutbound reports whether a client may publish or send requests on
// subject: server-bound channel subjects, presence and registry lookups.
func (s Subjects) ClientOutbound(subject string) bool {
	switch subject {
	case s.PresenceJoin(), s.PresenceLeave(), s.RegistryLookup():
		return true
	}
	return s.isChannel(subject) && strings.HasSuffix(subject, ".server")
}

// ClientInbound reports whether peer may subscribe to or serve subject:
// channel subjects addressed to peer, broadcasts and registry announcements.
func (s Subjects) ClientInbound(subject string, peer channel.PeerID) bool {
	if subject == s.RegistryCreated() {
		return true
	}
	if !s.isChannel(subject) {
		return false
	}
	return strings.HasSuffix(subject, ".all") || strings.HasSuffix(subject, ".peer."+peer.String())
}

func (s Subjects) isChannel(subject string) bool {
	if strings.ContainsAny(subject, "*> \t") {
		return false
	}
	rest, ok := strings.CutPrefix(subject, s.ns()+".")
	if !ok {
		return false
	}
	return strings.HasPrefix(rest, channel.KindEvent.Prefix()) || strings.HasPrefix(rest, channel.KindFunction.Prefix())
}
