// Package wt is the optional WebTransport listener. It speaks the same
// binary frame protocol as the websocket endpoint, carried over one
// bidirectional QUIC stream per session with a 2-byte length prefix per
// frame, and reuses the ws session logic unchanged.
package wt

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"murk/internal/ws"
)

// certValidity stays under the 14-day browser cap for pinned
// serverCertificateHashes.
const certValidity = 13 * 24 * time.Hour

const maxFrameSize = 1 << 16

// Server accepts WebTransport sessions and hands them to the ws
// handler as frame connections.
type Server struct {
	addr     string
	hostname string
	handler  *ws.Handler
	wt       *webtransport.Server
}

// NewServer returns a listener on addr that feeds sessions into h.
func NewServer(addr, hostname string, h *ws.Handler) *Server {
	return &Server{addr: addr, hostname: hostname, handler: h}
}

// Run listens until ctx is cancelled. The certificate is self-signed;
// its fingerprint is logged for clients that pin it.
func (s *Server) Run(ctx context.Context) error {
	tlsConfig, fingerprint, err := generateTLSConfig(certValidity, s.hostname)
	if err != nil {
		return fmt.Errorf("webtransport tls: %w", err)
	}

	mux := http.NewServeMux()
	s.wt = &webtransport.Server{
		H3: &http3.Server{
			Addr:      s.addr,
			TLSConfig: tlsConfig,
			Handler:   mux,
		},
		CheckOrigin: func(_ *http.Request) bool { return true },
	}
	webtransport.ConfigureHTTP3Server(s.wt.H3)

	mux.HandleFunc("/wt", func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.wt.Upgrade(w, r)
		if err != nil {
			slog.Warn("webtransport upgrade failed", "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		go s.serveSession(ctx, sess)
	})

	slog.Info("webtransport listening", "addr", s.addr, "cert_fingerprint", fingerprint)

	go func() {
		<-ctx.Done()
		_ = s.wt.Close()
	}()

	return s.wt.ListenAndServe()
}

// serveSession accepts the client's frame stream and runs the shared
// session protocol over it.
func (s *Server) serveSession(ctx context.Context, sess *webtransport.Session) {
	defer sess.CloseWithError(0, "bye")

	stream, err := sess.AcceptStream(ctx)
	if err != nil {
		slog.Debug("webtransport accept stream", "err", err)
		return
	}
	s.handler.ServeFrameConn(newStreamConn(sess, stream))
}

// streamConn frames the protocol over one reliable stream:
// [length:2 BE][frame] per message.
type streamConn struct {
	sess   *webtransport.Session
	stream *webtransport.Stream
	br     *bufio.Reader

	writeMu sync.Mutex
}

func newStreamConn(sess *webtransport.Session, stream *webtransport.Stream) *streamConn {
	return &streamConn{
		sess:   sess,
		stream: stream,
		br:     bufio.NewReader(stream),
	}
}

func (c *streamConn) ReadFrame() ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(c.br, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(hdr[:])
	if n == 0 {
		return nil, fmt.Errorf("zero-length frame")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *streamConn) WriteFrame(data []byte) error {
	if len(data) > maxFrameSize-2 {
		return fmt.Errorf("frame too large: %d bytes", len(data))
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(data)))
	_ = c.stream.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.stream.Write(hdr[:]); err != nil {
		return err
	}
	_, err := c.stream.Write(data)
	return err
}

func (c *streamConn) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}

func (c *streamConn) Close() error {
	err := c.stream.Close()
	_ = c.sess.CloseWithError(0, "bye")
	return err
}

func (c *streamConn) RemoteAddr() string { return c.sess.RemoteAddr().String() }
