package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeService_CreateAndList(t *testing.T) {
	svc, err := NewEventTypeService(newMemEventTypeRepo(), &NoopLogger{})
	require.NoError(t, err)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateEventTypeRequest{Name: "orders", Description: "order lifecycle"})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	_, err = svc.Create(ctx, CreateEventTypeRequest{Name: "payments"})
	require.NoError(t, err)

	types, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, "orders", types[0].Name)
	assert.Equal(t, "payments", types[1].Name)
}

func TestEventTypeService_CreateDuplicateName(t *testing.T) {
	svc, err := NewEventTypeService(newMemEventTypeRepo(), &NoopLogger{})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.Create(ctx, CreateEventTypeRequest{Name: "orders"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateEventTypeRequest{Name: "orders", Description: "different description"})
	assert.ErrorIs(t, err, ErrEventTypeExists)
}

func TestEventTypeService_CreateValidation(t *testing.T) {
	svc, err := NewEventTypeService(newMemEventTypeRepo(), &NoopLogger{})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateEventTypeRequest{Name: ""})
	assert.Error(t, err)
}

func TestEventTypeService_ListEmpty(t *testing.T) {
	svc, err := NewEventTypeService(newMemEventTypeRepo(), &NoopLogger{})
	require.NoError(t, err)

	types, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, types)
}

func TestEventTypeService_Get(t *testing.T) {
	svc, err := NewEventTypeService(newMemEventTypeRepo(), &NoopLogger{})
	require.NoError(t, err)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateEventTypeRequest{Name: "orders"})
	require.NoError(t, err)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "orders", got.Name)

	_, err = svc.Get(ctx, 99)
	assert.Error(t, err)
}
