package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// WSClientPeer adapts a gorilla/websocket client connection to the Peer
// contract. Grounded on the Home Assistant WebSocket client's dial/auth
// sequence, generalized to OneBot's bearer-token handshake.
type WSClientPeer struct {
	conn *websocket.Conn
}

// WSClientDialer dials a OneBot WS-client endpoint with an optional
// bearer token, per spec §6.
type WSClientDialer struct {
	URL         string
	AccessToken string
	Dialer      websocket.Dialer
}

// NewWSClientDialer builds a dialer with read/write buffer sizes tuned
// for OneBot's typically small JSON frames.
func NewWSClientDialer(rawURL, accessToken string) *WSClientDialer {
	return &WSClientDialer{
		URL:         rawURL,
		AccessToken: accessToken,
		Dialer: websocket.Dialer{
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  16 * 1024,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Dial implements Dialer.
func (d *WSClientDialer) Dial(ctx context.Context) (Peer, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket url: %w", err)
	}

	var header http.Header
	if d.AccessToken != "" {
		header = http.Header{"Authorization": []string{"Bearer " + d.AccessToken}}
	}

	conn, resp, err := d.Dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	return &WSClientPeer{conn: conn}, nil
}

// ReadFrame implements Peer.
func (p *WSClientPeer) ReadFrame(ctx context.Context) ([]byte, error) {
	_, payload, err := p.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame implements Peer.
func (p *WSClientPeer) WriteFrame(ctx context.Context, payload []byte) error {
	return p.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close implements Peer.
func (p *WSClientPeer) Close() error {
	return p.conn.Close()
}
