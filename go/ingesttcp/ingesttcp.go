// Package ingesttcp implements C6, the raw TCP listener that accepts
// Tattile-XML payloads, grounded on original_source/app/ingest/tcp_server.py
// (one connection per camera, read to EOF, parse, close) and the teacher's
// per-connection goroutine-under-supervisor pattern from
// go/flow-ingester/main.go.
package ingesttcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"github.com/Lasarikoo/TattileSender/go/normalize"
	"github.com/Lasarikoo/TattileSender/go/store"
)

// ReadingSaver is the subset of *store.ReadingStore the TCP ingest needs.
type ReadingSaver interface {
	SaveReading(ctx context.Context, r store.NormalizedReading) (readingID, queueID int64, err error)
}

// Server accepts Tattile-XML connections on Port.
type Server struct {
	Port     int
	Store    ReadingSaver
	Log      *log.Entry

	listener net.Listener
}

// New builds a Server bound to port.
func New(port int, st ReadingSaver, logger *log.Entry) *Server {
	return &Server{Port: port, Store: st, Log: logger}
}

// Run listens on Port and spawns one goroutine per accepted connection. It
// blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", s.Port))
	if err != nil {
		return fmt.Errorf("listening on tcp ingest port %d: %w", s.Port, err)
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.Log.WithField("port", s.Port).Info("tcp ingest listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.Log.WithError(err).Warn("tcp accept error")
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn reads one connection to EOF, decodes it as UTF-8 (replacing
// invalid sequences, per spec.md §4.6), parses it as Tattile XML and
// persists it. The connection is closed without partial state on any
// failure -- there is no partial ingest to roll back because nothing is
// written until the whole payload parses.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))

	raw, err := io.ReadAll(conn)
	if err != nil {
		s.Log.WithError(err).Warn("tcp ingest read failed")
		return
	}
	if len(raw) == 0 {
		return
	}

	text := toValidUTF8(raw)

	reading, err := normalize.ParseTattileXML(text)
	if err != nil {
		s.Log.WithError(err).Warn("tcp ingest parse failed, dropping connection")
		return
	}

	saveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, _, err := s.Store.SaveReading(saveCtx, reading); err != nil {
		s.Log.WithError(err).WithField("plate", reading.Plate).Error("failed saving tcp ingest reading")
		return
	}

	s.Log.WithField("plate", reading.Plate).WithField("device_sn", reading.DeviceSN).Info("tcp ingest reading saved")
}

// toValidUTF8 replaces invalid byte sequences with the Unicode replacement
// character rather than rejecting the payload outright, per spec.md §4.6.
func toValidUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var buf bytes.Buffer
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		buf.WriteRune(r)
		b = b[size:]
	}
	return buf.String()
}
