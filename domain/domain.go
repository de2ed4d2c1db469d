package domain

import "context"

type Role string

const (
	RoleScanner Role = "scanner"
	RoleWeb     Role = "web"
	RoleNone    Role = "none"
)

func ParseRole(s string) Role {
	switch Role(s) {
	case RoleScanner:
		return RoleScanner
	case RoleWeb:
		return RoleWeb
	default:
		return RoleNone
	}
}

type Connection interface {
	ID() string
	Role() Role
	Send(data []byte) error
	Ping() error
	Terminate()
	Alive() bool
	MarkProbed()
}

type Broadcaster interface {
	Register(conn Connection)
	Join(conn Connection, welcome func())
	Unregister(conn Connection)
	Broadcast(role Role, data []byte)
	CountScanners() int
}

type MessageHandler interface {
	Welcome(conn Connection)
	Handle(ctx context.Context, conn Connection, data []byte)
}

type Enqueuer interface {
	Enqueue(code string)
}

type Resolution struct {
	Found      bool
	SourceType string
	SourceID   string
}

// A missing mapping is Resolution{Found: false} with a nil error.
type Resolver interface {
	Resolve(ctx context.Context, code string) (Resolution, error)
}

type ResolverFunc func(ctx context.Context, code string) (Resolution, error)

func (f ResolverFunc) Resolve(ctx context.Context, code string) (Resolution, error) {
	return f(ctx, code)
}

// Batches arrive one at a time in flush order.
type BatchConsumer interface {
	Consume(ctx context.Context, codes []string) error
}

type BatchConsumerFunc func(ctx context.Context, codes []string) error

func (f BatchConsumerFunc) Consume(ctx context.Context, codes []string) error {
	return f(ctx, codes)
}
