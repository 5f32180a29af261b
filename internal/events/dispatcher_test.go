package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatcherIsolatesHandlerFailures(t *testing.T) {
	d := NewInMemoryDispatcher(nil)
	var delivered []string

	d.Subscribe(EventUserLoggedIn, func(context.Context, Event) error {
		return errors.New("smtp down")
	})
	d.Subscribe(EventUserLoggedIn, func(context.Context, Event) error {
		panic("template missing")
	})
	d.Subscribe(EventUserLoggedIn, func(_ context.Context, e Event) error {
		delivered = append(delivered, e.UserID)
		return nil
	})

	err := d.Publish(context.Background(), Event{Type: EventUserLoggedIn, UserID: "u-1"})
	assert.NoError(t, err)
	assert.Equal(t, []string{"u-1"}, delivered)
}

func TestDispatcherRoutesByType(t *testing.T) {
	d := NewInMemoryDispatcher(nil)
	var got []EventType
	d.Subscribe(EventUserRegistered, func(_ context.Context, e Event) error {
		got = append(got, e.Type)
		return nil
	})

	_ = d.Publish(context.Background(), Event{Type: EventUserLoggedOut})
	_ = d.Publish(context.Background(), Event{Type: EventUserRegistered})
	assert.Equal(t, []EventType{EventUserRegistered}, got)
}
