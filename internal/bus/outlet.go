package bus

import (
	"context"
	"fmt"
)

// Outlet is the sender side handed to a handler: it may only publish on the
// topics the handler declared.
type Outlet struct {
	bus      *Bus
	owner    string
	produces map[Topic]struct{}
}

func newOutlet(b *Bus, owner string, produces []Topic) *Outlet {
	set := make(map[Topic]struct{}, len(produces))
	for _, t := range produces {
		set[t] = struct{}{}
	}
	return &Outlet{bus: b, owner: owner, produces: set}
}

// Publish fans payload out on topic.
func (o *Outlet) Publish(ctx context.Context, topic Topic, payload any) error {
	if _, ok := o.produces[topic]; !ok {
		return fmt.Errorf("%w: %s does not produce %s", ErrUndeclaredTopic, o.owner, topic)
	}
	return o.bus.Publish(ctx, topic, payload)
}

// Owner is the handler this outlet belongs to.
func (o *Outlet) Owner() string {
	return o.owner
}
