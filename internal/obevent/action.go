package obevent

import "encoding/json"

// Action is an outbound command constructed by a handler body. Trigger is
// filled in at construction time if a session is in scope, so downstream
// logging can correlate an action with the event that caused it.
type Action struct {
	Type     string
	Params   map[string]any
	Echo     string
	NeedEcho bool
	Trigger  Event
}

// NewAction builds an Action with no echo requested.
func NewAction(actionType string, params map[string]any) *Action {
	return &Action{Type: actionType, Params: params}
}

// WithTrigger returns a copy of the action with Trigger set to e.
func (a *Action) WithTrigger(e Event) *Action {
	cp := *a
	cp.Trigger = e
	return &cp
}

// EchoStatus is the status field of an inbound echo frame.
type EchoStatus string

const (
	EchoOK     EchoStatus = "ok"
	EchoFailed EchoStatus = "failed"
)

// Echo is an inbound frame correlated to a previously sent action by id.
type Echo struct {
	EchoID  string
	Status  EchoStatus
	Retcode int
	Data    json.RawMessage
}

// OK reports whether the endpoint reported success.
func (e *Echo) OK() bool { return e.Status == EchoOK }

// Unmarshal decodes the echo's Data payload into v.
func (e *Echo) Unmarshal(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}
