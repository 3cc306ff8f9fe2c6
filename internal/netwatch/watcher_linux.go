//go:build linux

package netwatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const readTimeout = time.Second

// Watcher subscribes to RTMGRP_LINK and RTMGRP_IPV4_IFADDR and signals
// Events whenever a watched interface changes.
type Watcher struct {
	conn   *netlink.Conn
	rt     *rtnetlink.Conn
	ifaces map[string]struct{}
	events chan struct{}
	logger *zap.Logger

	mu    sync.Mutex
	names map[uint32]string

	closeOnce sync.Once
}

// New opens the netlink subscriptions for ifaces.
func New(logger *zap.Logger, ifaces []string) (*Watcher, error) {
	conn, err := netlink.Dial(unix.NETLINK_ROUTE, &netlink.Config{
		Groups: unix.RTMGRP_LINK | unix.RTMGRP_IPV4_IFADDR,
	})
	if err != nil {
		return nil, fmt.Errorf("dial netlink: %w", err)
	}
	rt, err := rtnetlink.Dial(nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("dial rtnetlink: %w", err)
	}
	return newWatcher(conn, rt, ifaces, logger), nil
}

func newWatcher(conn *netlink.Conn, rt *rtnetlink.Conn, ifaces []string, logger *zap.Logger) *Watcher {
	return &Watcher{
		conn:   conn,
		rt:     rt,
		ifaces: watchSet(ifaces),
		events: make(chan struct{}, 1),
		logger: logger,
		names:  make(map[uint32]string),
	}
}

// Events delivers one value per burst of relevant changes.
func (w *Watcher) Events() <-chan struct{} { return w.events }

// Run reads notifications until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := w.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		msgs, err := w.conn.Receive()
		if err != nil {
			var opErr *netlink.OpError
			if errors.As(err, &opErr) && opErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn("netlink receive failed", zap.Error(err))
			continue
		}
		for _, m := range msgs {
			if name, ok := w.classify(m); ok {
				w.logger.Debug("interface change", zap.String("iface", name),
					zap.Uint16("type", uint16(m.Header.Type)))
				notify(w.events)
			}
		}
	}
}

// Close releases both sockets.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = errors.Join(w.conn.Close(), w.rt.Close())
	})
	return err
}

// classify returns the watched interface a message concerns.
func (w *Watcher) classify(m netlink.Message) (string, bool) {
	switch m.Header.Type {
	case unix.RTM_NEWLINK, unix.RTM_DELLINK:
		var lm rtnetlink.LinkMessage
		if err := lm.UnmarshalBinary(m.Data); err != nil {
			return "", false
		}
		if lm.Attributes == nil || lm.Attributes.Name == "" {
			return "", false
		}
		w.remember(lm.Index, lm.Attributes.Name)
		return w.watched(lm.Attributes.Name)
	case unix.RTM_NEWADDR, unix.RTM_DELADDR:
		var am rtnetlink.AddressMessage
		if err := am.UnmarshalBinary(m.Data); err != nil {
			return "", false
		}
		return w.watched(w.lookup(am.Index))
	}
	return "", false
}

func (w *Watcher) watched(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if len(w.ifaces) == 0 {
		return name, true
	}
	_, ok := w.ifaces[name]
	return name, ok
}

func (w *Watcher) remember(index uint32, name string) {
	w.mu.Lock()
	w.names[index] = name
	w.mu.Unlock()
}

func (w *Watcher) lookup(index uint32) string {
	w.mu.Lock()
	name, ok := w.names[index]
	w.mu.Unlock()
	if ok || w.rt == nil {
		return name
	}
	lm, err := w.rt.Link.Get(index)
	if err != nil || lm.Attributes == nil {
		return ""
	}
	w.remember(index, lm.Attributes.Name)
	return lm.Attributes.Name
}
