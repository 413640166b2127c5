package feeds

import "context"

// Feed is the lifecycle and subscription surface both streaming feeds
// expose. Connect records intent and starts the market monitor; it
// does not itself open a socket.
type Feed interface {
	Connect()
	Close()
	Subscribe(ctx context.Context, symbols []string) error
	Unsubscribe(ctx context.Context, symbols []string) error
	Subscriptions() []string
	Status() string
}
