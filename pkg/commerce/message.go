package commerce

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownResource is returned for a resource type that is not synced.
	ErrUnknownResource = errors.New("unknown resource type")

	// ErrUnsupportedNotification is returned when a notification type is not
	// handled for its resource.
	ErrUnsupportedNotification = errors.New("unsupported notification type")

	// ErrUnknownEvent is returned for an unrecognized message type discriminator.
	ErrUnknownEvent = errors.New("unknown event type")

	// ErrMalformedMessage is returned when message data cannot be decoded.
	ErrMalformedMessage = errors.New("malformed message")
)

// ResourceType is the kind of entity a message refers to.
type ResourceType string

const (
	ResourceProduct  ResourceType = "product"
	ResourceCustomer ResourceType = "customer"
	ResourceOrder    ResourceType = "order"
)

// NotificationResourceCreated is the notification type of a creation.
const NotificationResourceCreated = "ResourceCreated"

// EventKind discriminates Event.
type EventKind string

const (
	EventProductPublished EventKind = "ProductPublished"
	EventCustomerCreated  EventKind = "CustomerCreated"
	EventOrderCreated     EventKind = "OrderCreated"
)

// Event is a domain event carrying the full entity. Exactly one of
// Product, Customer or Order is set, matching Kind.
type Event struct {
	Kind     EventKind
	Product  *ProductProjection
	Customer *Customer
	Order    *Order
}

// ProductPublished builds a product event.
func ProductPublished(p *ProductProjection) Event {
	return Event{Kind: EventProductPublished, Product: p}
}

// CustomerCreated builds a customer event.
func CustomerCreated(c *Customer) Event {
	return Event{Kind: EventCustomerCreated, Customer: c}
}

// OrderCreated builds an order event.
func OrderCreated(o *Order) Event {
	return Event{Kind: EventOrderCreated, Order: o}
}

// ResourceType returns the resource type the event is about.
func (e Event) ResourceType() ResourceType {
	switch e.Kind {
	case EventProductPublished:
		return ResourceProduct
	case EventCustomerCreated:
		return ResourceCustomer
	case EventOrderCreated:
		return ResourceOrder
	}
	return ""
}

// ResourceID returns the id of the carried entity, or "" if none is set.
func (e Event) ResourceID() string {
	switch {
	case e.Kind == EventProductPublished && e.Product != nil:
		return e.Product.ID
	case e.Kind == EventCustomerCreated && e.Customer != nil:
		return e.Customer.ID
	case e.Kind == EventOrderCreated && e.Order != nil:
		return e.Order.ID
	}
	return ""
}

// Validate checks that exactly the case named by Kind is populated.
func (e Event) Validate() error {
	set := 0
	for _, ok := range []bool{e.Product != nil, e.Customer != nil, e.Order != nil} {
		if ok {
			set++
		}
	}
	if set != 1 || e.entity() == nil {
		return fmt.Errorf("%w: %q must carry exactly one matching entity", ErrUnknownEvent, e.Kind)
	}
	return nil
}

func (e Event) entity() interface{} {
	switch e.Kind {
	case EventProductPublished:
		if e.Product != nil {
			return e.Product
		}
	case EventCustomerCreated:
		if e.Customer != nil {
			return e.Customer
		}
	case EventOrderCreated:
		if e.Order != nil {
			return e.Order
		}
	}
	return nil
}

// ResourceIdentifier references an entity by type and id.
type ResourceIdentifier struct {
	TypeID ResourceType `json:"typeId"`
	ID     string       `json:"id"`
}

// Message is the decoded data of a push notification. It either references
// a resource to fetch, or embeds the entity directly in Event.
type Message struct {
	NotificationType string
	ProjectKey       string
	Resource         ResourceIdentifier

	// Event is set when the message used the type-discriminated encoding.
	Event *Event
}

type rawMessage struct {
	NotificationType  string              `json:"notificationType"`
	ProjectKey        string              `json:"projectKey"`
	Resource          *ResourceIdentifier `json:"resource"`
	Type              string              `json:"type"`
	ProductProjection *ProductProjection  `json:"productProjection"`
	Customer          *Customer           `json:"customer"`
	Order             *Order              `json:"order"`
}

// DecodeMessage parses notification data. Customer and order notifications
// must be creations. Messages with a "type" discriminator must embed the
// entity matching that type.
func DecodeMessage(data []byte) (*Message, error) {
	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	msg := &Message{
		NotificationType: strings.TrimSpace(raw.NotificationType),
		ProjectKey:       strings.TrimSpace(raw.ProjectKey),
	}
	if raw.Resource != nil {
		msg.Resource = *raw.Resource
	}

	if raw.Type != "" {
		ev, err := embeddedEvent(&raw)
		if err != nil {
			return nil, err
		}
		msg.Event = ev
		msg.Resource = ResourceIdentifier{TypeID: ev.ResourceType(), ID: ev.ResourceID()}
		return msg, nil
	}

	if raw.Resource == nil || strings.TrimSpace(raw.Resource.ID) == "" {
		return nil, fmt.Errorf("%w: missing resource", ErrMalformedMessage)
	}

	switch msg.Resource.TypeID {
	case ResourceProduct:
	case ResourceCustomer, ResourceOrder:
		if msg.NotificationType != NotificationResourceCreated {
			return nil, fmt.Errorf("%w: %q for %s", ErrUnsupportedNotification, msg.NotificationType, msg.Resource.TypeID)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownResource, msg.Resource.TypeID)
	}
	return msg, nil
}

func embeddedEvent(raw *rawMessage) (*Event, error) {
	var ev Event
	switch EventKind(raw.Type) {
	case EventProductPublished:
		if raw.ProductProjection == nil {
			return nil, fmt.Errorf("%w: %s without productProjection", ErrMalformedMessage, raw.Type)
		}
		ev = ProductPublished(raw.ProductProjection)
	case EventCustomerCreated:
		if raw.Customer == nil {
			return nil, fmt.Errorf("%w: %s without customer", ErrMalformedMessage, raw.Type)
		}
		ev = CustomerCreated(raw.Customer)
	case EventOrderCreated:
		if raw.Order == nil {
			return nil, fmt.Errorf("%w: %s without order", ErrMalformedMessage, raw.Type)
		}
		ev = OrderCreated(raw.Order)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, raw.Type)
	}
	return &ev, nil
}
