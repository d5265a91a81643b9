package broker

import "strings"

// CommandKind identifies one wire command.
type CommandKind int

// Wire command kinds. Unknown lines parse to KindUnknown and get a textual
// error response without tearing the session down.
const (
	KindUnknown CommandKind = iota
	KindPong
	KindPing
	KindLogout
	KindSubscribe
	KindUnsubscribe
	KindSubscribedTypes
	KindAck
	KindCreateEventType
	KindCreateEvent
	KindEventTypeList
	KindSystemStatus
	KindClientID
	KindRegister
)

// Command is one parsed inbound line. Args holds the comma-separated fields
// after the keyword (trimmed), except for KindAck where Args[0] is the
// message ID following "ACK:".
type Command struct {
	Kind CommandKind
	Args []string
	Raw  string
}

// ParseCommand classifies one inbound line. Matching preserves the dispatch
// order of the rule list: exact liveness commands first, then prefix
// commands, then keyword commands with CREATE EVENT TYPE checked before
// CREATE EVENT so the longer keyword wins.
func ParseCommand(line string) Command {
	cmd := Command{Raw: line}

	switch {
	case line == "PONG":
		cmd.Kind = KindPong
	case line == "PING":
		cmd.Kind = KindPing
	case strings.HasPrefix(line, "LOGOUT"):
		cmd.Kind = KindLogout
		cmd.Args = splitFields(line)
	case strings.HasPrefix(line, "UNSUBSCRIBE"):
		cmd.Kind = KindUnsubscribe
		cmd.Args = splitFields(line)
	case strings.HasPrefix(line, "SUBSCRIBE"):
		cmd.Kind = KindSubscribe
		cmd.Args = splitFields(line)
	case strings.HasPrefix(line, "GET SUBSCRIBED EVENT TYPES"):
		cmd.Kind = KindSubscribedTypes
		cmd.Args = splitFields(line)
	case strings.HasPrefix(line, "ACK:"):
		cmd.Kind = KindAck
		if id := strings.TrimSpace(line[len("ACK:"):]); id != "" {
			cmd.Args = []string{id}
		}
	case strings.Contains(line, "CREATE EVENT TYPE"):
		cmd.Kind = KindCreateEventType
		cmd.Args = splitFields(line)
	case strings.Contains(line, "CREATE EVENT"):
		cmd.Kind = KindCreateEvent
		cmd.Args = splitFields(line)
	case strings.Contains(line, "GET EVENT TYPE LIST"):
		cmd.Kind = KindEventTypeList
	case strings.Contains(line, "GET SYSTEM STATUS"):
		cmd.Kind = KindSystemStatus
	case strings.Contains(line, "CLIENTID"):
		cmd.Kind = KindClientID
		cmd.Args = splitFields(line)
	case strings.Contains(line, "REGISTER"):
		cmd.Kind = KindRegister
		cmd.Args = splitFields(line)
	}

	return cmd
}

// splitFields returns the trimmed comma-separated fields after the keyword.
func splitFields(line string) []string {
	parts := strings.Split(line, ",")
	if len(parts) <= 1 {
		return nil
	}
	fields := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		fields = append(fields, strings.TrimSpace(p))
	}
	return fields
}
