package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		line string
		kind CommandKind
		args []string
	}{
		{
			name: "pong",
			line: "PONG",
			kind: KindPong,
		},
		{
			name: "ping",
			line: "PING",
			kind: KindPing,
		},
		{
			name: "logout without user",
			line: "LOGOUT",
			kind: KindLogout,
		},
		{
			name: "logout with user",
			line: "LOGOUT,7",
			kind: KindLogout,
			args: []string{"7"},
		},
		{
			name: "subscribe",
			line: "SUBSCRIBE,3,12",
			kind: KindSubscribe,
			args: []string{"3", "12"},
		},
		{
			name: "unsubscribe is not mistaken for subscribe",
			line: "UNSUBSCRIBE,3,12",
			kind: KindUnsubscribe,
			args: []string{"3", "12"},
		},
		{
			name: "subscribed event types",
			line: "GET SUBSCRIBED EVENT TYPES,12",
			kind: KindSubscribedTypes,
			args: []string{"12"},
		},
		{
			name: "ack",
			line: "ACK:abc-123",
			kind: KindAck,
			args: []string{"abc-123"},
		},
		{
			name: "ack trims whitespace",
			line: "ACK: abc-123 ",
			kind: KindAck,
			args: []string{"abc-123"},
		},
		{
			name: "ack without id has no args",
			line: "ACK:",
			kind: KindAck,
		},
		{
			name: "create event type wins over create event",
			line: "CREATE EVENT TYPE,orders,New order placed",
			kind: KindCreateEventType,
			args: []string{"orders", "New order placed"},
		},
		{
			name: "create event",
			line: "CREATE EVENT,3,order 42 shipped",
			kind: KindCreateEvent,
			args: []string{"3", "order 42 shipped"},
		},
		{
			name: "event type list",
			line: "GET EVENT TYPE LIST",
			kind: KindEventTypeList,
		},
		{
			name: "system status",
			line: "GET SYSTEM STATUS",
			kind: KindSystemStatus,
		},
		{
			name: "client id",
			line: "CLIENTID,12",
			kind: KindClientID,
			args: []string{"12"},
		},
		{
			name: "register",
			line: "REGISTER,alice,secret123,CLIENT",
			kind: KindRegister,
			args: []string{"alice", "secret123", "CLIENT"},
		},
		{
			name: "fields are trimmed",
			line: "SUBSCRIBE, 3 , 12 ",
			kind: KindSubscribe,
			args: []string{"3", "12"},
		},
		{
			name: "unknown command",
			line: "FLURBLE,1,2",
			kind: KindUnknown,
		},
		{
			name: "empty payload field is kept",
			line: "CREATE EVENT,3,",
			kind: KindCreateEvent,
			args: []string{"3", ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := ParseCommand(tt.line)
			assert.Equal(t, tt.kind, cmd.Kind)
			assert.Equal(t, tt.args, cmd.Args)
			assert.Equal(t, tt.line, cmd.Raw)
		})
	}
}
