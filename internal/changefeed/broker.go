// Package changefeed fans session changes out to subscribers by group name.
package changefeed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/youtoss/ledger/internal/domain"
)

// ErrClosed is returned when subscribing to a closed broker.
var ErrClosed = errors.New("changefeed: broker closed")

type brokerMsg interface{ isBrokerMsg() }

type join struct {
	group string
	id    uint64
	out   chan *domain.Session
}

type leave struct {
	group string
	id    uint64
}

type publish struct {
	session *domain.Session
}

type stats struct {
	reply chan int
}

func (join) isBrokerMsg()    {}
func (leave) isBrokerMsg()   {}
func (publish) isBrokerMsg() {}
func (stats) isBrokerMsg()   {}

// Broker is a single goroutine owning the subscriber table. Every
// subscriber channel holds at most one snapshot: a newer snapshot replaces
// one the subscriber has not read yet, so a slow reader never stalls the
// broker and always ends up with the latest state.
type Broker struct {
	inbox  chan brokerMsg
	subs   map[string]map[uint64]chan *domain.Session
	nextID atomic.Uint64
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBroker starts a broker that runs until parent is cancelled or Close is
// called.
func NewBroker(parent context.Context, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	b := &Broker{
		inbox:  make(chan brokerMsg, 64),
		subs:   make(map[string]map[uint64]chan *domain.Session),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Broker) loop() {
	defer close(b.done)
	for {
		select {
		case <-b.ctx.Done():
			b.shutdown()
			return

		case m := <-b.inbox:
			switch msg := m.(type) {
			case join:
				group := b.subs[msg.group]
				if group == nil {
					group = make(map[uint64]chan *domain.Session)
					b.subs[msg.group] = group
				}
				group[msg.id] = msg.out

			case leave:
				if ch, ok := b.subs[msg.group][msg.id]; ok {
					close(ch)
					delete(b.subs[msg.group], msg.id)
					if len(b.subs[msg.group]) == 0 {
						delete(b.subs, msg.group)
					}
				}

			case publish:
				b.broadcast(msg.session)

			case stats:
				n := 0
				for _, group := range b.subs {
					n += len(group)
				}
				msg.reply <- n
			}
		}
	}
}

func (b *Broker) broadcast(s *domain.Session) {
	for _, ch := range b.subs[s.GroupName] {
		snap := s.Clone()
		select {
		case ch <- snap:
		default:
			// Replace the unread snapshot. Only this goroutine sends, so the
			// second send has room unless the reader raced us to it.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (b *Broker) shutdown() {
	for name, group := range b.subs {
		for id, ch := range group {
			close(ch)
			delete(group, id)
		}
		delete(b.subs, name)
	}
}

func (b *Broker) send(m brokerMsg) error {
	if b.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case b.inbox <- m:
		return nil
	case <-b.ctx.Done():
		return ErrClosed
	}
}

// Subscribe registers for changes to sessions of groupName.
func (b *Broker) Subscribe(groupName string) (*Subscription, error) {
	out := make(chan *domain.Session, 1)
	id := b.nextID.Add(1)
	if err := b.send(join{group: groupName, id: id, out: out}); err != nil {
		return nil, err
	}
	return &Subscription{C: out, broker: b, group: groupName, id: id}, nil
}

// Publish delivers a copy of s to the subscribers of its group.
func (b *Broker) Publish(s *domain.Session) {
	if s == nil {
		return
	}
	if err := b.send(publish{session: s.Clone()}); err != nil {
		b.logger.Debug("dropping session change after broker close", "session_id", s.ID)
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	reply := make(chan int, 1)
	if err := b.send(stats{reply: reply}); err != nil {
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-b.done:
		return 0
	}
}

// Close stops the broker and closes every subscription channel.
func (b *Broker) Close() {
	b.cancel()
	<-b.done
}

// Subscription is one registration with a Broker. C is closed when the
// subscription is released or the broker stops.
type Subscription struct {
	C <-chan *domain.Session

	broker *Broker
	group  string
	id     uint64
	once   sync.Once
}

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		_ = s.broker.send(leave{group: s.group, id: s.id})
	})
}
