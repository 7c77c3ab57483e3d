package sphere

import (
	"context"

	"github.com/nerrad567/sphere-bridge/internal/push"
)

// Stream opens push-event sessions.
type Stream interface {
	Open(ctx context.Context, token string, handler push.Handler) (Session, error)
}

// Session is an open push-event subscription.
type Session interface {
	Stop()
	Done() <-chan struct{}
}

type pushStream struct {
	client *push.Client
}

// PushStream adapts a push.Client to Stream.
func PushStream(client *push.Client) Stream {
	return pushStream{client: client}
}

func (p pushStream) Open(ctx context.Context, token string, handler push.Handler) (Session, error) {
	s, err := p.client.Open(ctx, token, handler)
	if err != nil {
		return nil, err
	}
	return s, nil
}
