package stream

// Envelope wraps an outbound event with its type label. Serialized as
// {"type": "<Label>", "data": {...}} on every transport.
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewEnvelope builds an envelope for the given label and payload.
func NewEnvelope(dataType string, data interface{}) Envelope {
	return Envelope{Type: dataType, Data: data}
}

// Sink publishes labeled, serializable events to consumers. A send
// with zero current subscribers succeeds; best-effort delivery is the
// contract for every implementation.
type Sink interface {
	// Send wraps data in an envelope with the given type label and
	// publishes it.
	Send(dataType string, data interface{}) error
	// SendEnvelope publishes a pre-built envelope without relabeling.
	SendEnvelope(env Envelope) error
}
