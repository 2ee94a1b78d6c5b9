package broker

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// fdConn is a minimal wrapper around a raw, connected socket file
// descriptor. The broker client manages the fd directly (rather than
// through net.Conn) so that the worker loop can multiplex socket readiness
// and self-wake readiness through a single unix.Poll call, mirroring the
// self-pipe design in spec.md §3's "Broker client state".
type fdConn struct {
	fd int
}

// dialTCP resolves host to an IPv4 address and connects a blocking TCP
// socket to host:port.
func dialTCP(host string, port uint16) (*fdConn, error) {
	ip, err := resolveIPv4(host)
	if err != nil {
		return nil, fmt.Errorf("broker: resolve %s: %w", host, err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("broker: socket: %w", err)
	}

	var addr unix.SockaddrInet4
	addr.Port = int(port)
	copy(addr.Addr[:], ip)

	if err := unix.Connect(fd, &addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("broker: connect %s:%d: %w", host, port, err)
	}

	return &fdConn{fd: fd}, nil
}

func resolveIPv4(host string) ([4]byte, error) {
	var out [4]byte

	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil {
			return out, err
		}
		for _, candidate := range ips {
			if v4 := candidate.To4(); v4 != nil {
				ip = candidate
				break
			}
		}
		if ip == nil {
			return out, fmt.Errorf("no A record for %s", host)
		}
	}

	v4 := ip.To4()
	if v4 == nil {
		return out, fmt.Errorf("%s does not resolve to IPv4", host)
	}
	copy(out[:], v4)
	return out, nil
}

// Read implements io.Reader, used only during the synchronous connect
// handshake (the fd is still blocking at that point).
func (c *fdConn) Read(p []byte) (int, error) {
	n, err := unix.Read(c.fd, p)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, unix.ECONNRESET
	}
	return n, nil
}

// Write implements io.Writer, looping past short writes.
func (c *fdConn) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := unix.Write(c.fd, p[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (c *fdConn) setNonblock(v bool) error {
	return unix.SetNonblock(c.fd, v)
}

func (c *fdConn) close() error {
	return unix.Close(c.fd)
}

// selfWake is a self-pipe used to interrupt a blocked unix.Poll call from
// another goroutine: Publish and Destroy write a byte to wake the
// worker immediately instead of waiting for its next timeout.
type selfWake struct {
	readFD, writeFD int
}

func newSelfWake() (*selfWake, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("broker: self-wake pipe: %w", err)
	}
	return &selfWake{readFD: fds[0], writeFD: fds[1]}, nil
}

// signal wakes the worker. It is safe to call from any goroutine and never
// blocks: a full pipe buffer means a wake is already pending.
func (w *selfWake) signal() {
	var b [1]byte
	_, _ = unix.Write(w.writeFD, b[:])
}

// drain discards every pending wake byte after a poll indicates the read
// end is readable.
func (w *selfWake) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(w.readFD, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (w *selfWake) close() {
	unix.Close(w.readFD)
	unix.Close(w.writeFD)
}
