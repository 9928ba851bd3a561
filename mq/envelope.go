package mq

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the wire form of an event, shared by the relay and websocket frames.
type Envelope struct {
	ID   string          `json:"id"`
	Type Kind            `json:"type"`
	Key  string          `json:"key"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

func Encode(e Event) (Envelope, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", e.Kind(), err)
	}
	h := e.Meta()
	return Envelope{ID: h.EventID, Type: e.Kind(), Key: e.PartitionKey(), At: h.At, Data: data}, nil
}

// Decode restores the concrete variant named by env.Type.
func Decode(env Envelope) (Event, error) {
	var (
		e   Event
		err error
	)
	switch env.Type {
	case KindOrderCreated:
		var v OrderCreated
		err = json.Unmarshal(env.Data, &v)
		e = v
	case KindOrderStatusChanged:
		var v OrderStatusChanged
		err = json.Unmarshal(env.Data, &v)
		e = v
	case KindOrderPaymentChanged:
		var v OrderPaymentChanged
		err = json.Unmarshal(env.Data, &v)
		e = v
	case KindOrderCompleted:
		var v OrderCompleted
		err = json.Unmarshal(env.Data, &v)
		e = v
	case KindReviewApproved:
		var v ReviewApproved
		err = json.Unmarshal(env.Data, &v)
		e = v
	case KindReviewRemoved:
		var v ReviewRemoved
		err = json.Unmarshal(env.Data, &v)
		e = v
	default:
		return nil, fmt.Errorf("decode: unknown event type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return e, nil
}

// MarshalFrame renders the envelope as the JSON text pushed to clients and relays.
func (env Envelope) MarshalFrame() ([]byte, error) {
	return json.Marshal(env)
}

func UnmarshalFrame(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal frame: %w", err)
	}
	return env, nil
}
