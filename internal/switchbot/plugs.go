package switchbot

import (
	"context"
	"encoding/json"
)

// Plugs issues status and command calls by device name, resolving ids
// through the executor.
type Plugs struct {
	client *Client
	exec   *Executor
}

// NewPlugs binds a client to an executor.
func NewPlugs(client *Client, exec *Executor) *Plugs {
	return &Plugs{client: client, exec: exec}
}

// Status returns the current status of the named plug.
func (p *Plugs) Status(ctx context.Context, name string) (*DeviceStatus, error) {
	return Run[*DeviceStatus](ctx, p.exec, name, p.client.Status)
}

// Command sends cmd to the named plug and returns the response body.
func (p *Plugs) Command(ctx context.Context, name string, cmd Command) (json.RawMessage, error) {
	return Run[json.RawMessage](ctx, p.exec, name, func(ctx context.Context, id string) (json.RawMessage, error) {
		return p.client.Command(ctx, id, cmd)
	})
}
