package commerce

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage_ResourceReference(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{
		"notificationType":"Message",
		"projectKey":"shop",
		"resource":{"typeId":"product","id":"p-1"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "shop", msg.ProjectKey)
	assert.Equal(t, ResourceProduct, msg.Resource.TypeID)
	assert.Equal(t, "p-1", msg.Resource.ID)
	assert.Nil(t, msg.Event)
}

func TestDecodeMessage_CustomerRequiresCreation(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"notificationType":"ResourceUpdated","projectKey":"shop","resource":{"typeId":"customer","id":"c-1"}}`))
	assert.ErrorIs(t, err, ErrUnsupportedNotification)

	msg, err := DecodeMessage([]byte(`{"notificationType":"ResourceCreated","projectKey":"shop","resource":{"typeId":"order","id":"o-1"}}`))
	require.NoError(t, err)
	assert.Equal(t, ResourceOrder, msg.Resource.TypeID)
}

func TestDecodeMessage_UnknownResource(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"notificationType":"ResourceCreated","projectKey":"shop","resource":{"typeId":"cart","id":"x"}}`))
	assert.ErrorIs(t, err, ErrUnknownResource)
}

func TestDecodeMessage_Malformed(t *testing.T) {
	_, err := DecodeMessage([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = DecodeMessage([]byte(`{"projectKey":"shop"}`))
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestDecodeMessage_EmbeddedEvent(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{
		"type":"CustomerCreated",
		"projectKey":"shop",
		"customer":{"id":"c-9","email":"a@example.com","firstName":"Ada","lastName":"Lovelace"}
	}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Event)
	assert.Equal(t, EventCustomerCreated, msg.Event.Kind)
	assert.Equal(t, "c-9", msg.Event.Customer.ID)
	assert.Equal(t, ResourceIdentifier{TypeID: ResourceCustomer, ID: "c-9"}, msg.Resource)
	assert.NoError(t, msg.Event.Validate())
}

func TestDecodeMessage_EmbeddedEventErrors(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"type":"CartCreated","cart":{}}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = DecodeMessage([]byte(`{"type":"ProductPublished"}`))
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestEvent_Validate(t *testing.T) {
	assert.NoError(t, OrderCreated(&Order{ID: "o-1"}).Validate())
	assert.Error(t, Event{Kind: EventOrderCreated, Customer: &Customer{ID: "c"}}.Validate())
	assert.Error(t, Event{Kind: EventProductPublished}.Validate())
	assert.Error(t, Event{
		Kind:     EventCustomerCreated,
		Customer: &Customer{ID: "c"},
		Order:    &Order{ID: "o"},
	}.Validate())
}
