package mqttmount_test

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/require"

	"github.com/mqttmount/mqttmount"
	"github.com/mqttmount/mqttmount/fsproto"
	"github.com/mqttmount/mqttmount/mqttproto"
)

// fakeBroker accepts a single connection, performs the CONNECT/SUBSCRIBE
// handshake this client always does, then reports every PUBLISH it
// receives on publishes while letting the test push PUBLISH frames of
// its own back to the client.
type fakeBroker struct {
	listener  net.Listener
	conn      net.Conn
	ready     chan struct{} // closed once the handshake has completed
	publishes chan mqttproto.Result
}

func startFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	b := &fakeBroker{listener: ln, ready: make(chan struct{}), publishes: make(chan mqttproto.Result, 16)}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		b.conn = conn

		var buf [256]byte
		n, err := conn.Read(buf[:])
		if err != nil || n == 0 {
			return
		}
		if _, err := conn.Write([]byte{0x20, 2, 0, 0}); err != nil { // CONNACK
			return
		}

		n, err = conn.Read(buf[:])
		if err != nil || n == 0 {
			return
		}
		if _, err := conn.Write([]byte{0x90, 3, 0, 1, 0}); err != nil { // SUBACK
			return
		}
		close(b.ready)

		b.readLoop()
	}()

	return b
}

func (b *fakeBroker) readLoop() {
	var buf []byte
	chunk := make([]byte, 4096)
	cursor := 0
	for {
		n, err := b.conn.Read(chunk)
		if err != nil {
			return
		}
		buf = append(buf, chunk[:n]...)

		for {
			res, next := mqttproto.ParseMessage(buf, cursor)
			if res.Outcome == mqttproto.ReadMore {
				break
			}
			if res.Outcome == mqttproto.Success {
				topic := append([]byte(nil), res.Topic...)
				payload := append([]byte(nil), res.Payload...)
				b.publishes <- mqttproto.Result{Outcome: mqttproto.Success, Topic: string(topic), Payload: payload}
			}
			cursor = next
		}
	}
}

func (b *fakeBroker) sendPublish(t *testing.T, topic string, payload []byte) {
	t.Helper()
	select {
	case <-b.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("fake broker handshake did not complete")
	}
	frame, err := mqttproto.EncodePublish(topic, payload)
	require.NoError(t, err)
	_, err = b.conn.Write(frame)
	require.NoError(t, err)
}

func (b *fakeBroker) close() {
	select {
	case <-b.ready:
		b.conn.Close()
	default:
	}
	b.listener.Close()
}

func (b *fakeBroker) addr() (host string, port uint16) {
	tcpAddr := b.listener.Addr().(*net.TCPAddr)
	return tcpAddr.IP.String(), uint16(tcpAddr.Port)
}

// kernelSide is a thin request/response driver over one end of the
// net.Pipe handed to the Context as its Device, standing in for the
// kernel side of the wire protocol spec.md §6 describes.
type kernelSide struct {
	conn net.Conn
	next uint64
}

func (k *kernelSide) call(t *testing.T, opcode fsproto.Opcode, nodeID uint64, body []byte) (fsproto.ResponseHeader, []byte) {
	t.Helper()
	k.next++
	hdr := fsproto.RequestHeader{
		Len:    uint32(fsproto.RequestHeaderSize + len(body)),
		Opcode: opcode,
		Unique: k.next,
		NodeID: nodeID,
	}
	frame := hdr.Encode(nil)
	frame = append(frame, body...)
	_, err := k.conn.Write(frame)
	require.NoError(t, err)

	respHdrBuf := make([]byte, fsproto.ResponseHeaderSize)
	_, err = io.ReadFull(k.conn, respHdrBuf)
	require.NoError(t, err)
	respHdr, err := fsproto.DecodeResponseHeader(respHdrBuf)
	require.NoError(t, err)

	respBody := make([]byte, int(respHdr.Len)-fsproto.ResponseHeaderSize)
	_, err = io.ReadFull(k.conn, respBody)
	require.NoError(t, err)

	return respHdr, respBody
}

func encodeU64Pair(a, b uint64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], a)
	binary.BigEndian.PutUint64(buf[8:16], b)
	return buf
}

func TestContextWriteThroughFileReachesBroker(t *testing.T) {
	broker := startFakeBroker(t)
	defer broker.close()
	host, port := broker.addr()

	deviceSide, kernelConn := net.Pipe()
	defer kernelConn.Close()

	mc := &mqttmount.Context{
		Host:      host,
		Port:      port,
		Keepalive: time.Minute,
		Holdback:  10 * time.Millisecond,
		Device:    deviceSide,
		Clock:     timeutil.RealClock(),
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- mc.Run(runCtx) }()

	k := &kernelSide{conn: kernelConn}

	createHdr, createBody := k.call(t, fsproto.OpCreate, 1, fsproto.AppendString(nil, "temp"))
	require.EqualValues(t, fsproto.Success, createHdr.Error)
	attr, n, err := fsproto.DecodeAttr(createBody)
	require.NoError(t, err)
	require.Equal(t, fsproto.ModeFile, attr.Mode)
	handle := binary.BigEndian.Uint64(createBody[n : n+8])

	writeBody := append(encodeU64Pair(handle, 0), []byte("21.5")...)
	writeHdr, writeRespBody := k.call(t, fsproto.OpWrite, 0, writeBody)
	require.EqualValues(t, fsproto.Success, writeHdr.Error)
	require.Equal(t, uint32(4), binary.BigEndian.Uint32(writeRespBody))

	select {
	case res := <-broker.publishes:
		require.Equal(t, "temp", res.Topic)
		require.Equal(t, []byte("21.5"), res.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("broker never received the PUBLISH from the WRITE")
	}

	cancel()
	kernelConn.Close()
	<-runDone
}

func TestContextBrokerPublishIsVisibleThroughLookup(t *testing.T) {
	broker := startFakeBroker(t)
	defer broker.close()
	host, port := broker.addr()

	deviceSide, kernelConn := net.Pipe()
	defer kernelConn.Close()

	mc := &mqttmount.Context{
		Host:      host,
		Port:      port,
		Keepalive: time.Minute,
		Holdback:  10 * time.Millisecond,
		Device:    deviceSide,
		Clock:     timeutil.RealClock(),
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- mc.Run(runCtx) }()

	broker.sendPublish(t, "sensors/temp", []byte("99.9"))

	k := &kernelSide{conn: kernelConn}

	var lookupHdr fsproto.ResponseHeader
	var lookupBody []byte
	require.Eventually(t, func() bool {
		lookupHdr, lookupBody = k.call(t, fsproto.OpLookup, 1, fsproto.AppendString(nil, "sensors"))
		return lookupHdr.Error == int32(fsproto.Success)
	}, 2*time.Second, 10*time.Millisecond)

	attr, _, err := fsproto.DecodeAttr(lookupBody)
	require.NoError(t, err)
	require.Equal(t, fsproto.ModeDir, attr.Mode)
	sensorsInode := attr.Inode

	leafHdr, leafBody := k.call(t, fsproto.OpLookup, sensorsInode, fsproto.AppendString(nil, "temp"))
	require.EqualValues(t, fsproto.Success, leafHdr.Error)
	leafAttr, _, err := fsproto.DecodeAttr(leafBody)
	require.NoError(t, err)
	require.Equal(t, uint64(4), leafAttr.Size)

	cancel()
	kernelConn.Close()
	<-runDone
}
