package signal

import (
	"context"
	"fmt"
)

// Topic addressing schemes.
//
// Every connected client subscribes to its own user topic. Once engaged in a
// call it additionally subscribes to that call's topic. Presence broadcasts
// go to a single shared topic.

func UserTopic(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

func CallTopic(roomID string) string {
	return fmt.Sprintf("call:%s", roomID)
}

func PresenceTopic() string {
	return "presence"
}

// Bus is the publish/subscribe fabric carrying signaling events between
// connections. Publish must not block on slow subscribers; delivery to an
// unreachable subscriber is not an error.
type Bus interface {
	Publish(ctx context.Context, topic string, ev Event) error
	Subscribe(ctx context.Context, topics ...string) (Subscription, error)
}

// Subscription is one receiver's view of the bus. Topics can be added and
// removed while the subscription is live (a client joins a call topic only
// once engaged in that call).
type Subscription interface {
	Messages() <-chan Message
	Add(ctx context.Context, topics ...string) error
	Remove(ctx context.Context, topics ...string) error
	Close() error
}
