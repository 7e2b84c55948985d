package observability

import "github.com/nats-io/nats.go"

// NATSHeaderCarrier lets the OpenTelemetry propagator read and write trace
// context through nats.Header, so a span started at event ingestion or task
// dispatch survives the trip through JetStream.
type NATSHeaderCarrier struct {
	H nats.Header
}

func (c NATSHeaderCarrier) Get(key string) string {
	if c.H == nil {
		return ""
	}
	return c.H.Get(key)
}

func (c NATSHeaderCarrier) Set(key, value string) {
	c.H.Set(key, value)
}

func (c NATSHeaderCarrier) Keys() []string {
	out := make([]string, 0, len(c.H))
	for name := range c.H {
		out = append(out, name)
	}
	return out
}
