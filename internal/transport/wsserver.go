package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrAuthFailed marks a fatal handshake rejection (403), not subject to
// retry per spec §7's "Auth failure" row.
var ErrAuthFailed = errors.New("transport: authentication rejected")

// WSServerPeer adapts an accepted single WS-server connection to Peer.
type WSServerPeer struct {
	conn *websocket.Conn
}

func (p *WSServerPeer) ReadFrame(ctx context.Context) ([]byte, error) {
	_, payload, err := p.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (p *WSServerPeer) WriteFrame(ctx context.Context, payload []byte) error {
	return p.conn.WriteMessage(websocket.TextMessage, payload)
}

func (p *WSServerPeer) Close() error { return p.conn.Close() }

// WSServerDialer "dials" by accepting the next peer on a listening HTTP
// server — a single logical connection at a time, per spec §4.1's
// "accept exactly one peer" rule. A second concurrent dial while one
// peer is already attached receives 403.
type WSServerDialer struct {
	Addr        string
	AccessToken string

	upgrader websocket.Upgrader
	server   *http.Server

	mu       sync.Mutex
	attached bool
	accept   chan *websocket.Conn
	started  bool
}

// NewWSServerDialer builds a server-mode dialer listening on addr.
func NewWSServerDialer(addr, accessToken string) *WSServerDialer {
	return &WSServerDialer{
		Addr:        addr,
		AccessToken: accessToken,
		accept:      make(chan *websocket.Conn, 1),
	}
}

func (d *WSServerDialer) ensureStarted() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if d.AccessToken != "" {
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+d.AccessToken {
				w.WriteHeader(http.StatusForbidden)
				return
			}
		}

		d.mu.Lock()
		busy := d.attached
		d.mu.Unlock()
		if busy {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		conn, err := d.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		d.mu.Lock()
		d.attached = true
		d.mu.Unlock()

		select {
		case d.accept <- conn:
		default:
			conn.Close()
			d.mu.Lock()
			d.attached = false
			d.mu.Unlock()
		}
	})

	d.server = &http.Server{Addr: d.Addr, Handler: mux}
	go d.server.ListenAndServe()
}

// Dial implements Dialer: it blocks until the next peer connects (or
// reconnects after the prior one disconnected).
func (d *WSServerDialer) Dial(ctx context.Context) (Peer, error) {
	d.ensureStarted()
	select {
	case conn := <-d.accept:
		return &releasingPeer{WSServerPeer: &WSServerPeer{conn: conn}, dialer: d}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// releasingPeer clears the dialer's attached flag on Close so the next
// dial can accept a fresh peer, per spec's "on peer disconnect, discard
// state and wait for the next connection."
type releasingPeer struct {
	*WSServerPeer
	dialer *WSServerDialer
}

func (p *releasingPeer) Close() error {
	p.dialer.mu.Lock()
	p.dialer.attached = false
	p.dialer.mu.Unlock()
	return p.WSServerPeer.Close()
}

// Shutdown stops the underlying HTTP server.
func (d *WSServerDialer) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	srv := d.server
	d.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown ws server: %w", err)
	}
	return nil
}
