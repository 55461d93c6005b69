// Package notify implements keyspace/keyevent pub-sub notifications and
// client-side-caching invalidation tracking, per spec.md §4.8.
package notify

import "fmt"

// Class is a bitmask selecting which keyspace-notification classes are
// published, mirroring the original's notify-keyspace-events class flags.
type Class uint32

const (
	ClassGeneric Class = 1 << iota
	ClassString
	ClassList
	ClassSet
	ClassHash
	ClassZSet
	ClassExpired
	ClassEvicted
	ClassKeyMiss
	ClassNew

	ClassKeyspace // enables __keyspace@<db>__ channel publication
	ClassKeyevent // enables __keyevent@<db>__ channel publication
)

// ClassAll is every data-type class, the target of the 'A' config flag.
const ClassAll = ClassGeneric | ClassString | ClassList | ClassSet | ClassHash | ClassZSet | ClassExpired | ClassEvicted | ClassKeyMiss | ClassNew

// Subscriber receives a published message: channel is the full channel
// name, payload is the event or key string (see Broker.Notify).
type Subscriber func(channel, payload string)

// Broker is the keyspace-notification publisher described in spec.md
// §4.8. It has no delivery-ordering requirements beyond "publish now", so
// it's a plain fan-out map rather than anything borrowed from the swap
// pipeline's ordering machinery.
type Broker struct {
	mask        Class
	subscribers map[string]map[uint64]Subscriber
}

// NewBroker builds a Broker emitting classes selected by mask.
func NewBroker(mask Class) *Broker {
	return &Broker{mask: mask, subscribers: make(map[string]map[uint64]Subscriber)}
}

// Subscribe registers sub to receive messages on channel, keyed by
// clientID so Unsubscribe can target one client's registration.
func (b *Broker) Subscribe(channel string, clientID uint64, sub Subscriber) {
	set, ok := b.subscribers[channel]
	if !ok {
		set = make(map[uint64]Subscriber)
		b.subscribers[channel] = set
	}
	set[clientID] = sub
}

// Unsubscribe removes clientID's registration on channel.
func (b *Broker) Unsubscribe(channel string, clientID uint64) {
	if set, ok := b.subscribers[channel]; ok {
		delete(set, clientID)
		if len(set) == 0 {
			delete(b.subscribers, channel)
		}
	}
}

func (b *Broker) publish(channel, payload string) {
	for _, sub := range b.subscribers[channel] {
		sub(channel, payload)
	}
}

// Notify publishes a keyspace event for key in database db, if class is
// enabled in the broker's mask. Two channels are published per spec.md
// §4.8: `__keyspace@<db>__:<key>` with the event name as payload, and
// `__keyevent@<db>__:<event>` with the key as payload.
func (b *Broker) Notify(db int, class Class, event, key string) {
	if b.mask&class == 0 {
		return
	}
	if b.mask&ClassKeyspace != 0 {
		b.publish(fmt.Sprintf("__keyspace@%d__:%s", db, key), event)
	}
	if b.mask&ClassKeyevent != 0 {
		b.publish(fmt.Sprintf("__keyevent@%d__:%s", db, event), key)
	}
}
