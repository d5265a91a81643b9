package broker

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/coregx/broker/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient drives one protocol session over an in-memory pipe.
type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func (c *testClient) sendLine(line string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

func (c *testClient) readLine() string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.reader.ReadString('\n')
	require.NoError(c.t, err)
	return strings.TrimSuffix(line, "\n")
}

func (c *testClient) close() {
	_ = c.conn.Close()
}

// newTestSession starts a session over net.Pipe and returns the client side.
func newTestSession(t *testing.T, te *testEngine) *testClient {
	t.Helper()

	subs, err := NewSubscriptionService(
		WithSubscriptionRepositories(te.subs, te.types),
		WithSubscriptionLogger(&NoopLogger{}),
	)
	require.NoError(t, err)

	accounts, err := NewAccountService(newMemUserRepo(), &NoopLogger{})
	require.NoError(t, err)

	types, err := NewEventTypeService(te.types, &NoopLogger{})
	require.NoError(t, err)

	server, err := NewServer(
		WithServerRegistry(te.registry),
		WithServerEngine(te.engine),
		WithServerServices(subs, accounts, types),
	)
	require.NoError(t, err)

	serverSide, clientSide := net.Pipe()
	go server.Handle(context.Background(), serverSide)
	t.Cleanup(func() { _ = clientSide.Close() })

	return &testClient{t: t, conn: clientSide, reader: bufio.NewReader(clientSide)}
}

func TestSession_UnknownCommand(t *testing.T) {
	c := newTestSession(t, newTestEngine(t))

	c.sendLine("FLURBLE,1,2")
	assert.Equal(t, "Unknown command: FLURBLE,1,2", c.readLine())
}

func TestSession_PingPong(t *testing.T) {
	c := newTestSession(t, newTestEngine(t))

	c.sendLine("PING")
	assert.Equal(t, "PONG", c.readLine())
}

func TestSession_Register(t *testing.T) {
	c := newTestSession(t, newTestEngine(t))

	c.sendLine("REGISTER,alice,secret123,CLIENT")
	assert.Equal(t, "Client registered successfully", c.readLine())

	c.sendLine("REGISTER,alice,secret123")
	assert.Equal(t, "Invalid registration format. Use: REGISTER,username,password,role", c.readLine())

	c.sendLine("REGISTER,bob,x,CLIENT")
	assert.Contains(t, c.readLine(), "Registration failed:")
}

func TestSession_ClientIDBindsConnection(t *testing.T) {
	te := newTestEngine(t)
	c := newTestSession(t, te)

	c.sendLine("CLIENTID,7")
	// Binding is silent when nothing is pending; verify via PING.
	c.sendLine("PING")
	assert.Equal(t, "PONG", c.readLine())
	assert.True(t, te.registry.Connected(7))
}

func TestSession_ReconnectKeepsNewestConnection(t *testing.T) {
	te := newTestEngine(t)

	c1 := newTestSession(t, te)
	c1.sendLine("CLIENTID,7")
	require.Eventually(t, func() bool { return te.registry.Connected(7) },
		time.Second, 10*time.Millisecond)

	c2 := newTestSession(t, te)
	c2.sendLine("CLIENTID,7")
	c2.sendLine("PING")
	require.Equal(t, "PONG", c2.readLine())

	// Registering the replacement closed the first session's transport; wait
	// for that session's read loop to notice and finish its teardown.
	_ = c1.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := c1.reader.ReadString('\n')
	require.Error(t, err)

	// The dying session must not tear down the replacement's registration.
	assert.Never(t, func() bool { return !te.registry.Connected(7) },
		300*time.Millisecond, 20*time.Millisecond)

	go func() { _ = te.registry.Send(7, "still here") }()
	assert.Equal(t, "still here", c2.readLine())
}

func TestSession_ClientIDReplaysPending(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	et, err := te.types.Create(ctx, model.NewEventType("orders", ""))
	require.NoError(t, err)
	event := model.NewEvent(et.ID, "order 42")
	_, err = te.pending.Store(ctx, model.NewPendingMessage(7, event))
	require.NoError(t, err)

	c := newTestSession(t, te)
	c.sendLine("CLIENTID,7")

	assert.Equal(t, "You have 1 pending messages:", c.readLine())
	assert.Equal(t, EventLine("orders", event.MessageID, "order 42"), c.readLine())
	require.Eventually(t, func() bool { return te.pending.count() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestSession_SubscribeFlow(t *testing.T) {
	c := newTestSession(t, newTestEngine(t))

	c.sendLine("CREATE EVENT TYPE,orders,Order lifecycle")
	assert.Equal(t, "Event type created successfully", c.readLine())

	c.sendLine("CREATE EVENT TYPE,orders,duplicate")
	assert.Equal(t, "Event type already exists: orders", c.readLine())

	c.sendLine("SUBSCRIBE,1,7")
	assert.Equal(t, "Successfully subscribed to event type ID: 1", c.readLine())

	c.sendLine("SUBSCRIBE,1,7")
	assert.Equal(t, "You are already subscribed to this event type", c.readLine())

	c.sendLine("UNSUBSCRIBE,1,7")
	assert.Equal(t, "Successfully unsubscribed from event type ID: 1", c.readLine())

	c.sendLine("UNSUBSCRIBE,1,7")
	assert.Equal(t, "Failed to unsubscribe. You may not be subscribed to this event type.", c.readLine())

	c.sendLine("SUBSCRIBE,1,7")
	assert.Equal(t, "Successfully resubscribed to event type ID: 1", c.readLine())

	c.sendLine("SUBSCRIBE,nonsense")
	assert.Equal(t, "Invalid format for subscribing. Use: SUBSCRIBE,eventTypeId,userId", c.readLine())

	c.sendLine("SUBSCRIBE,a,b")
	assert.Equal(t, "Invalid ID format in request", c.readLine())
}

func TestSession_SubscribedTypesJSON(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	et, err := te.types.Create(ctx, model.NewEventType("orders", ""))
	require.NoError(t, err)
	_, err = te.subs.Create(ctx, model.NewSubscription(7, et.ID))
	require.NoError(t, err)

	c := newTestSession(t, te)

	c.sendLine("GET SUBSCRIBED EVENT TYPES,7")
	var types []model.EventType
	require.NoError(t, json.Unmarshal([]byte(c.readLine()), &types))
	require.Len(t, types, 1)
	assert.Equal(t, et.ID, types[0].ID)

	c.sendLine("GET SUBSCRIBED EVENT TYPES,99")
	assert.Equal(t, "[]", c.readLine())
}

func TestSession_CreateEvent(t *testing.T) {
	te := newTestEngine(t)
	c := newTestSession(t, te)

	c.sendLine("CREATE EVENT TYPE,orders,Order lifecycle")
	assert.Equal(t, "Event type created successfully", c.readLine())

	c.sendLine("CREATE EVENT,1,order 42 placed")
	assert.Equal(t, "Event published successfully", c.readLine())

	c.sendLine("CREATE EVENT,99,whatever")
	assert.Equal(t, "Event type not found: 99", c.readLine())

	c.sendLine("CREATE EVENT,notanumber,whatever")
	assert.Equal(t, "Invalid event type ID format", c.readLine())
}

func TestSession_EventTypeListJSON(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	_, err := te.types.Create(ctx, model.NewEventType("orders", "Order lifecycle"))
	require.NoError(t, err)

	c := newTestSession(t, te)

	c.sendLine("GET EVENT TYPE LIST")
	var types []model.EventType
	require.NoError(t, json.Unmarshal([]byte(c.readLine()), &types))
	require.Len(t, types, 1)
	assert.Equal(t, "orders", types[0].Name)
}

func TestSession_SystemStatusBlock(t *testing.T) {
	c := newTestSession(t, newTestEngine(t))

	c.sendLine("GET SYSTEM STATUS")
	assert.Equal(t, "BEGIN STATUS", c.readLine())
	assert.True(t, strings.HasPrefix(c.readLine(), "CLIENT_COUNT:"))
	assert.True(t, strings.HasPrefix(c.readLine(), "EVENT_COUNT:"))
	assert.Equal(t, "STATUS:RUNNING", c.readLine())
	assert.True(t, strings.HasPrefix(c.readLine(), "UPTIME:"))
	assert.Equal(t, "END STATUS", c.readLine())
}

func TestSession_LogoutConfirmsAndUnregisters(t *testing.T) {
	te := newTestEngine(t)
	c := newTestSession(t, te)

	c.sendLine("CLIENTID,7")
	c.sendLine("PING")
	require.Equal(t, "PONG", c.readLine())
	require.True(t, te.registry.Connected(7))

	c.sendLine("LOGOUT")
	assert.Equal(t, "LOGOUT_CONFIRMED", c.readLine())

	// Session ends and the registry entry is released.
	require.Eventually(t, func() bool { return !te.registry.Connected(7) },
		time.Second, 10*time.Millisecond)
}

func TestSession_AckAfterDelivery(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	et, err := te.types.Create(ctx, model.NewEventType("orders", ""))
	require.NoError(t, err)
	_, err = te.subs.Create(ctx, model.NewSubscription(7, et.ID))
	require.NoError(t, err)

	c := newTestSession(t, te)
	c.sendLine("CLIENTID,7")
	require.Eventually(t, func() bool { return te.registry.Connected(7) },
		time.Second, 10*time.Millisecond)

	// The pipe is unbuffered, so fan-out must run concurrently with the read.
	published := make(chan *model.Event, 1)
	go func() {
		event, err := te.engine.Publish(ctx, PublishRequest{EventTypeID: et.ID, Payload: "order 42"})
		assert.NoError(t, err)
		published <- event
	}()

	line := c.readLine()
	event := <-published
	require.NotNil(t, event)
	assert.Equal(t, EventLine("orders", event.MessageID, "order 42"), line)

	c.sendLine("ACK:" + event.MessageID)
	c.sendLine("PING")
	assert.Equal(t, "PONG", c.readLine())

	require.Eventually(t, func() bool {
		rec, err := te.delivery.Find(ctx, event.MessageID, 7)
		return err == nil && rec.Status == model.StatusAcknowledged
	}, time.Second, 10*time.Millisecond)
}
