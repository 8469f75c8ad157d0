package main

import (
	"context"

	"github.com/mastercactapus/maslowctl/alert"
	"github.com/mastercactapus/maslowctl/bridge"
	"github.com/mastercactapus/maslowctl/machine"
	"github.com/mastercactapus/maslowctl/machine/maslow"
)

// Machine is what the local API needs from a maslow.Client.
type Machine interface {
	Dispatch(ctx context.Context, in maslow.Intent) (*maslow.Response, error)
	Run(ctx context.Context, program string) (int, error)
	Reconnect(ctx context.Context) error
	Disconnect(reason string) error

	LinkState() bridge.State
	Store() *machine.Store
	Alerts() *alert.Channel
}

var _ Machine = &maslow.Client{}
