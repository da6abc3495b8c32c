package ingesttcp

import (
	"context"
	"net"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Lasarikoo/TattileSender/go/store"
)

type fakeSaver struct {
	readings []store.NormalizedReading
}

func (f *fakeSaver) SaveReading(ctx context.Context, r store.NormalizedReading) (int64, int64, error) {
	f.readings = append(f.readings, r)
	return int64(len(f.readings)), int64(len(f.readings)), nil
}

func TestServer_AcceptsAndSavesValidPayload(t *testing.T) {
	saver := &fakeSaver{}
	s := New(0, saver, log.New().WithField("test", true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.listener = ln

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		go s.handleConn(ctx, conn)
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	_, err = conn.Write([]byte(`<root><PLATE_STRING>1234ABC</PLATE_STRING><DEVICE_SN>CAM01</DEVICE_SN></root>`))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return len(saver.readings) == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, "1234ABC", saver.readings[0].Plate)
}
