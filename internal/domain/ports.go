package domain

import "context"

// ClientRepository persists one ClientRecord per identity.
type ClientRepository interface {
	GetClient(ctx context.Context, identity string) (ClientRecord, error)
	// CreateClient inserts record unless the identity already exists. It reports
	// whether a new row was written.
	CreateClient(ctx context.Context, record ClientRecord) (bool, error)
	SaveClient(ctx context.Context, record ClientRecord) error
	ListClients(ctx context.Context) ([]ClientRecord, error)
	// MarkAllDisconnected clears every live binding, used when the process starts
	// with an empty connection registry.
	MarkAllDisconnected(ctx context.Context) (int64, error)
}

// Broadcaster delivers outbound events. BroadcastAll reaches every dashboard
// observer; Unicast reaches one connection and reports whether it was still open.
type Broadcaster interface {
	BroadcastAll(event string, payload any)
	Unicast(connID string, event string, payload any) bool
}

// GoalNotifier is told about goal crossings after they are persisted and broadcast.
type GoalNotifier interface {
	NotifyGoalAchieved(ctx context.Context, record ClientRecord) error
}
