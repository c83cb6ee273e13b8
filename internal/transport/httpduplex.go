package transport

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/nugget/melocore/internal/httpkit"
)

// HTTPDuplexPeer implements Peer over two independent legs: outbound
// frames are POSTed as-is to the base URL via an httpkit client (no
// per-action path is appended), while
// inbound frames arrive on a listener and are optionally verified
// against an HMAC-SHA1 signature, per spec §4.1/§6.
//
// Because HTTP has no persistent duplex connection, ReadFrame pulls from
// an internal channel fed by the listener handler rather than a socket,
// and WriteFrame issues one POST per outbound packet; the connector's
// Linked/Relinking transitions degrade to tracking listener liveness
// rather than a single peer handle.
type HTTPDuplexPeer struct {
	base      string
	client    *http.Client
	secret    string
	mux       *http.ServeMux
	server    *http.Server
	addr      string
	inbound   chan []byte
	startOnce sync.Once
}

// NewHTTPDuplexDialer constructs the single persistent duplex peer used
// for the whole connector lifetime: HTTP-duplex has no reconnect concept
// at the peer level, so Dial always returns the same peer, starting its
// listener on first call.
func NewHTTPDuplexDialer(base, listenAddr, secret string) *HTTPDuplexPeer {
	return &HTTPDuplexPeer{
		base:    base,
		client:  httpkit.NewClient(httpkit.WithTimeout(0), httpkit.WithRetry(3, 0)),
		secret:  secret,
		addr:    listenAddr,
		inbound: make(chan []byte, DefaultOutputCap),
	}
}

// Dial implements Dialer.
func (p *HTTPDuplexPeer) Dial(ctx context.Context) (Peer, error) {
	p.startOnce.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/", p.handleInbound)
		p.mux = mux
		p.server = &http.Server{Addr: p.addr, Handler: mux}
		go p.server.ListenAndServe()
	})
	return p, nil
}

func (p *HTTPDuplexPeer) handleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if p.secret != "" {
		sig := r.Header.Get("X-Signature")
		if !verifyHMACSHA1(p.secret, body, sig) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
	}

	select {
	case p.inbound <- body:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

func verifyHMACSHA1(secret string, body []byte, header string) bool {
	const prefix = "sha1="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	want, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	got := mac.Sum(nil)
	return hmac.Equal(want, got)
}

// ReadFrame implements Peer by draining the listener's inbound channel.
func (p *HTTPDuplexPeer) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case b := <-p.inbound:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WriteFrame implements Peer by POSTing the frame to the base URL.
// The action type is not known at this layer (the codec embeds it in
// the payload), so outbound duplex posts go to the base URL directly;
// callers that need per-action routing should wrap the dialer per action
// type instead of sharing one peer across types.
func (p *HTTPDuplexPeer) WriteFrame(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build duplex request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post duplex action: %w", err)
	}

	if resp.StatusCode >= 400 {
		body := httpkit.ReadErrorBody(resp.Body, 4096)
		if resp.StatusCode == http.StatusForbidden {
			return ErrAuthFailed
		}
		return fmt.Errorf("duplex action rejected: status %d: %s", resp.StatusCode, body)
	}

	httpkit.DrainAndClose(resp.Body, 4096)
	return nil
}

// Close implements Peer by shutting down the inbound listener.
func (p *HTTPDuplexPeer) Close() error {
	if p.server == nil {
		return nil
	}
	return p.server.Close()
}
