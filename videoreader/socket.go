package videoreader

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// recvBufferBytes is the target socket receive buffer size. The kernel
// typically doubles whatever is requested here (spec §4.4).
const recvBufferBytes = 600 * 1024

// defaultMaxPacketSize is used when Config.MaxPacketSize is 0, sized for a
// 1500-byte Ethernet MTU minus IP/UDP overhead.
const defaultMaxPacketSize = 1500 - 20 - 8

// isMulticast reports whether ip's first octet falls in [224, 239].
func isMulticast(ip net.IP) bool {
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}
	return ip4[0] >= 224 && ip4[0] <= 239
}

// bindSocket creates and configures the receive socket per spec §4.4:
// SO_REUSEADDR, a larger receive buffer, and either a multicast join or a
// unicast bind depending on cfg.RecvAddr. It sets no receive timeout; the
// receive worker applies a deadline before each read instead.
func bindSocket(cfg Config) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) (ctrlErr error) {
			err := c.Control(func(fd uintptr) {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}

	laddr := fmt.Sprintf(":%d", cfg.RecvPort)
	pc, err := lc.ListenPacket(context.Background(), "udp4", laddr)
	if err != nil {
		return nil, err
	}
	conn := pc.(*net.UDPConn)

	if err := conn.SetReadBuffer(recvBufferBytes); err != nil {
		log.Debug("SetReadBuffer: %v", err)
	}

	if cfg.RecvAddr != "" {
		group := net.ParseIP(cfg.RecvAddr)
		if group != nil && isMulticast(group) {
			pconn := ipv4.NewPacketConn(conn)
			var iface *net.Interface
			if cfg.IfaceAddr != "" {
				iface, err = interfaceForAddr(cfg.IfaceAddr)
				if err != nil {
					conn.Close()
					return nil, errors.Wrap(err, "videoreader: resolving multicast interface")
				}
			}
			if err := pconn.JoinGroup(iface, &net.UDPAddr{IP: group}); err != nil {
				conn.Close()
				return nil, errors.Wrap(err, "videoreader: joining multicast group")
			}
		}
	}

	return conn, nil
}

// interfaceForAddr finds the local network interface owning addr.
func interfaceForAddr(addr string) (*net.Interface, error) {
	target := net.ParseIP(addr)
	if target == nil {
		return nil, fmt.Errorf("videoreader: invalid interface address %q", addr)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if ok && ipnet.IP.Equal(target) {
				return &ifaces[i], nil
			}
		}
	}
	return nil, fmt.Errorf("videoreader: no interface with address %q", addr)
}

func setReadDeadline(conn *net.UDPConn, d time.Duration) {
	conn.SetReadDeadline(time.Now().Add(d))
}
