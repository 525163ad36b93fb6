package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/networker/channel"
)

func TestSubjects_Layout(t *testing.T) {
	h := channel.Handle{ID: "abc", Kind: channel.KindEvent, Token: "ping"}
	s := Subjects{}

	assert.Equal(t, "networker.E.abc.server", s.EventServer(h))
	assert.Equal(t, "networker.E.abc.peer.7", s.EventPeer(h, 7))
	assert.Equal(t, "networker.E.abc.all", s.EventAll(h))

	f := channel.Handle{ID: "xyz", Kind: channel.KindFunction, Token: "get"}
	custom := Subjects{Namespace: "game"}
	assert.Equal(t, "game.F.xyz.server", custom.FunctionServer(f))
	assert.Equal(t, "game.F.xyz.peer.3", custom.FunctionPeer(f, 3))
	assert.Equal(t, "game.presence.join", custom.PresenceJoin())
}

func TestSubjects_ClientAccess(t *testing.T) {
	s := Subjects{}
	ev := channel.Handle{ID: "abc", Kind: channel.KindEvent, Token: "ping"}
	fn := channel.Handle{ID: "xyz", Kind: channel.KindFunction, Token: "get"}

	tests := []struct {
		subject  string
		outbound bool
		inbound  bool
	}{
		{s.EventServer(ev), true, false},
		{s.FunctionServer(fn), true, false},
		{s.PresenceJoin(), true, false},
		{s.PresenceLeave(), true, false},
		{s.RegistryLookup(), true, false},
		{s.RegistryCreated(), false, true},
		{s.EventAll(ev), false, true},
		{s.EventPeer(ev, 5), false, true},
		{s.FunctionPeer(fn, 5), false, true},
		{s.EventPeer(ev, 15), false, false},
		{s.EventPeer(ev, 6), false, false},
		{"networker.E.*.all", false, false},
		{"networker.>", false, false},
		{"other.E.abc.server", false, false},
		{"networker.X.abc.server", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.outbound, s.ClientOutbound(tt.subject))
			assert.Equal(t, tt.inbound, s.ClientInbound(tt.subject, 5))
		})
	}
}
