package broker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/coregx/broker/model"
)

// EventForwarder propagates a locally published event to sibling broker
// nodes. The session calls it once after every successful local publish;
// implementations must not forward an event a second time (cluster fan-out is
// a single hop). A nil forwarder disables clustering.
type EventForwarder interface {
	ForwardEvent(ctx context.Context, event model.Event)
}

// Session is the per-connection protocol state machine. It lives for the
// lifetime of one accepted connection, parses inbound lines into commands and
// routes them to the broker services. The bound identity starts unset and is
// established by CLIENTID.
//
// Every inbound line refreshes the registry heartbeat for the bound identity,
// regardless of which handler runs. Malformed commands produce a textual
// error response on the same connection; only transport errors terminate the
// session loop.
type session struct {
	conn      net.Conn
	out       Conn
	registry  *ConnRegistry
	engine    *DeliveryEngine
	subs      *SubscriptionService
	accounts  *AccountService
	types     *EventTypeService
	stats     StatsRepository
	forwarder EventForwarder
	logger    Logger
	startedAt time.Time

	userID int64 // 0 until CLIENTID binds an identity
}

// run reads and dispatches lines until the connection errors or closes, then
// releases the bound identity's registry entry. This and heartbeat eviction
// are the only paths that remove a registry entry.
func (s *session) run(ctx context.Context) {
	defer s.disconnect()

	scanner := bufio.NewScanner(s.conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		s.logger.Debugf("Received from client: %s", line)

		if s.userID != 0 {
			s.registry.Touch(s.userID)
		}

		if done := s.dispatch(ctx, ParseCommand(line)); done {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		s.logger.Infof("Client disconnected: %v", err)
	}
}

// disconnect tears down the session's transport and releases its registry
// entry. Release is handle-aware: if a newer connection already replaced this
// session's registration, only the local transport is closed.
func (s *session) disconnect() {
	if s.userID != 0 {
		s.registry.Release(s.userID, s.out)
		return
	}
	_ = s.conn.Close()
}

// dispatch routes one parsed command. Returns true when the session should
// end (graceful logout).
func (s *session) dispatch(ctx context.Context, cmd Command) bool {
	switch cmd.Kind {
	case KindPong:
		// Heartbeat response; Touch already ran.
	case KindPing:
		s.send("PONG")
	case KindLogout:
		return s.handleLogout(cmd)
	case KindSubscribe:
		s.handleSubscribe(ctx, cmd)
	case KindUnsubscribe:
		s.handleUnsubscribe(ctx, cmd)
	case KindSubscribedTypes:
		s.handleSubscribedTypes(ctx, cmd)
	case KindAck:
		s.handleAck(ctx, cmd)
	case KindCreateEventType:
		s.handleCreateEventType(ctx, cmd)
	case KindCreateEvent:
		s.handleCreateEvent(ctx, cmd)
	case KindEventTypeList:
		s.handleEventTypeList(ctx)
	case KindSystemStatus:
		s.handleSystemStatus(ctx)
	case KindClientID:
		s.handleClientID(ctx, cmd)
	case KindRegister:
		s.handleRegister(ctx, cmd)
	default:
		s.reject(cmd, "Unknown command: "+cmd.Raw)
	}
	return false
}

// send writes one response line; transport failures are logged, the loop
// notices them on the next read.
func (s *session) send(line string) {
	if err := s.out.SendLine(line); err != nil {
		s.logger.Warnf("Failed to write response: %v", err)
	}
}

// reject answers a malformed command with its usage line and records the
// protocol error. Malformed input never terminates the session.
func (s *session) reject(cmd Command, response string) {
	s.logger.Debugf("Rejected command: %v", NewError(ErrCodeProtocol, "malformed command: "+cmd.Raw))
	s.send(response)
}

func (s *session) handleClientID(ctx context.Context, cmd Command) {
	if len(cmd.Args) != 1 {
		s.reject(cmd, "Invalid CLIENTID message format")
		return
	}
	userID, err := strconv.ParseInt(cmd.Args[0], 10, 64)
	if err != nil {
		s.reject(cmd, "Invalid user ID format")
		return
	}

	s.userID = userID
	s.registry.Register(userID, s.out)
	s.logger.Infof("Bound connection to user %d", userID)

	if _, err := s.engine.DeliverPending(ctx, userID); err != nil {
		s.logger.Errorf("Failed to deliver pending messages for user %d: %v", userID, err)
	}
}

func (s *session) handleRegister(ctx context.Context, cmd Command) {
	if len(cmd.Args) != 3 {
		s.reject(cmd, "Invalid registration format. Use: REGISTER,username,password,role")
		return
	}

	req := RegisterRequest{Username: cmd.Args[0], Password: cmd.Args[1], Role: cmd.Args[2]}
	if _, err := s.accounts.Register(ctx, req); err != nil {
		s.send("Registration failed: " + err.Error())
		return
	}
	s.send("Client registered successfully")
}

func (s *session) handleSubscribe(ctx context.Context, cmd Command) {
	eventTypeID, userID, ok := s.pairArgs(cmd, "Invalid format for subscribing. Use: SUBSCRIBE,eventTypeId,userId")
	if !ok {
		return
	}

	result, err := s.subs.Subscribe(ctx, userID, eventTypeID)
	if err != nil {
		s.send("Error processing subscription: " + err.Error())
		return
	}
	switch result {
	case AlreadySubscribed:
		s.send("You are already subscribed to this event type")
	case Resubscribed:
		s.send(fmt.Sprintf("Successfully resubscribed to event type ID: %d", eventTypeID))
	default:
		s.send(fmt.Sprintf("Successfully subscribed to event type ID: %d", eventTypeID))
	}
}

func (s *session) handleUnsubscribe(ctx context.Context, cmd Command) {
	eventTypeID, userID, ok := s.pairArgs(cmd, "Invalid format for unsubscribing. Use: UNSUBSCRIBE,eventTypeId,userId")
	if !ok {
		return
	}

	if err := s.subs.Unsubscribe(ctx, userID, eventTypeID); err != nil {
		if IsNoData(err) {
			s.send("Failed to unsubscribe. You may not be subscribed to this event type.")
		} else {
			s.send("Error processing unsubscribe: " + err.Error())
		}
		return
	}
	s.send(fmt.Sprintf("Successfully unsubscribed from event type ID: %d", eventTypeID))
}

// pairArgs parses the (eventTypeId, userId) argument pair shared by the
// subscription commands.
func (s *session) pairArgs(cmd Command, usage string) (eventTypeID, userID int64, ok bool) {
	if len(cmd.Args) != 2 {
		s.reject(cmd, usage)
		return 0, 0, false
	}
	eventTypeID, err1 := strconv.ParseInt(cmd.Args[0], 10, 64)
	userID, err2 := strconv.ParseInt(cmd.Args[1], 10, 64)
	if err1 != nil || err2 != nil {
		s.reject(cmd, "Invalid ID format in request")
		return 0, 0, false
	}
	return eventTypeID, userID, true
}

func (s *session) handleSubscribedTypes(ctx context.Context, cmd Command) {
	if len(cmd.Args) != 1 {
		s.send("[]")
		return
	}
	userID, err := strconv.ParseInt(cmd.Args[0], 10, 64)
	if err != nil {
		s.send("[]")
		return
	}

	types, err := s.subs.SubscribedTypes(ctx, userID)
	if err != nil {
		s.logger.Errorf("Failed to load subscribed event types for user %d: %v", userID, err)
		s.send("[]")
		return
	}
	s.sendJSON(types)
}

func (s *session) handleAck(ctx context.Context, cmd Command) {
	if len(cmd.Args) != 1 || s.userID == 0 {
		return
	}
	if err := s.engine.Acknowledge(ctx, cmd.Args[0], s.userID); err != nil {
		s.logger.Errorf("Error processing acknowledgment: %v", err)
	}
}

func (s *session) handleCreateEventType(ctx context.Context, cmd Command) {
	if len(cmd.Args) != 2 {
		s.reject(cmd, "Invalid format for creating event type")
		return
	}

	req := CreateEventTypeRequest{Name: cmd.Args[0], Description: cmd.Args[1]}
	if _, err := s.types.Create(ctx, req); err != nil {
		if err == ErrEventTypeExists {
			s.send("Event type already exists: " + req.Name)
		} else {
			s.send("Error creating event type: " + err.Error())
		}
		return
	}
	s.send("Event type created successfully")
}

func (s *session) handleCreateEvent(ctx context.Context, cmd Command) {
	if len(cmd.Args) != 2 {
		s.reject(cmd, "Invalid format for creating event")
		return
	}
	eventTypeID, err := strconv.ParseInt(cmd.Args[0], 10, 64)
	if err != nil {
		s.reject(cmd, "Invalid event type ID format")
		return
	}

	event, err := s.engine.Publish(ctx, PublishRequest{EventTypeID: eventTypeID, Payload: cmd.Args[1]})
	if err != nil {
		if IsNoData(err) {
			s.send(fmt.Sprintf("Event type not found: %d", eventTypeID))
		} else {
			s.send("Error creating event: " + err.Error())
		}
		return
	}

	if s.forwarder != nil {
		s.forwarder.ForwardEvent(ctx, *event)
	}
	s.send("Event published successfully")
}

func (s *session) handleEventTypeList(ctx context.Context) {
	types, err := s.types.List(ctx)
	if err != nil {
		s.send("Error serializing event types: " + err.Error())
		return
	}
	s.sendJSON(types)
}

func (s *session) handleSystemStatus(ctx context.Context) {
	stats := model.BrokerStats{Status: "RUNNING"}
	if s.stats != nil {
		loaded, err := s.stats.BrokerStats(ctx)
		if err != nil {
			s.logger.Errorf("Failed to load broker stats: %v", err)
		} else {
			stats = loaded
			stats.Status = "RUNNING"
		}
	}
	stats.ClientCount = s.registry.Count()
	stats.UptimeSecs = int64(time.Since(s.startedAt).Seconds())

	s.send("BEGIN STATUS")
	s.send(fmt.Sprintf("CLIENT_COUNT:%d", stats.ClientCount))
	s.send(fmt.Sprintf("EVENT_COUNT:%d", stats.EventCount))
	s.send("STATUS:" + stats.Status)
	s.send(fmt.Sprintf("UPTIME:%d", stats.UptimeSecs))
	s.send("END STATUS")
}

func (s *session) handleLogout(cmd Command) bool {
	target := s.userID
	if len(cmd.Args) == 1 {
		if id, err := strconv.ParseInt(cmd.Args[0], 10, 64); err == nil {
			target = id
		} else {
			s.logger.Warnf("Invalid user ID in logout message: %s", cmd.Args[0])
		}
	}

	s.send("LOGOUT_CONFIRMED")

	if target != 0 && target != s.userID {
		// Logging out another identity closes that connection, not this one.
		s.registry.Unregister(target)
		s.logger.Infof("User %d logged out remotely", target)
		return false
	}

	if s.userID != 0 {
		s.logger.Infof("User %d logged out", s.userID)
	}
	return true
}

func (s *session) sendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.send("Error serializing response: " + err.Error())
		return
	}
	s.send(string(data))
}
