// Package discovery finds OpenMatrix devices on the local network over mDNS
// and lets the mock device answer for a .local name.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/pion/mdns/v2"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// DefaultLookupTimeout bounds Lookup when ctx has no deadline
const DefaultLookupTimeout = 5 * time.Second

// ErrNoMulticast is returned when no multicast socket could be opened
var ErrNoMulticast = errors.New("mdns: multicast unavailable")

// Responder answers mDNS queries until closed
type Responder struct {
	conn   *mdns.Conn
	names  []string
	logger *zap.Logger
}

// LocalName returns name with a .local suffix
func LocalName(name string) string {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".")
	if name == "" {
		return ""
	}
	if strings.HasSuffix(strings.ToLower(name), ".local") {
		return name
	}
	return name + ".local"
}

// BaseURL returns the device URL for addr. Port 0 or 80 is omitted.
func BaseURL(addr netip.Addr, port int) string {
	addr = addr.Unmap()
	if port == 0 || port == 80 {
		if addr.Is6() {
			return "http://[" + addr.String() + "]"
		}
		return "http://" + addr.String()
	}
	return "http://" + netip.AddrPortFrom(addr, uint16(port)).String()
}

// Advertise starts answering queries for names
func Advertise(names []string, logger *zap.Logger) (*Responder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	local := make([]string, 0, len(names))
	for _, n := range names {
		if n = LocalName(n); n != "" {
			local = append(local, n)
		}
	}
	if len(local) == 0 {
		return nil, fmt.Errorf("mdns: no names to advertise")
	}

	conn, err := listen(&mdns.Config{LocalNames: local}, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Advertising over mDNS", zap.Strings("names", local))
	return &Responder{conn: conn, names: local, logger: logger}, nil
}

// Names returns the advertised names
func (r *Responder) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Close stops answering queries
func (r *Responder) Close() error {
	r.logger.Info("Stopping mDNS responder")
	return r.conn.Close()
}

// Lookup resolves name (".local" is added when missing) to an address
func Lookup(ctx context.Context, name string, logger *zap.Logger) (netip.Addr, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	name = LocalName(name)
	if name == "" {
		return netip.Addr{}, fmt.Errorf("mdns: empty name")
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultLookupTimeout)
		defer cancel()
	}

	conn, err := listen(&mdns.Config{}, logger)
	if err != nil {
		return netip.Addr{}, err
	}
	defer conn.Close()

	_, addr, err := conn.QueryAddr(ctx, name)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("mdns: failed to resolve %s: %w", name, err)
	}
	logger.Debug("Resolved device", zap.String("name", name), zap.String("addr", addr.String()))
	return addr, nil
}

// listen opens the IPv4 and IPv6 multicast sockets. Either one failing is
// tolerated as long as the other opens.
func listen(cfg *mdns.Config, logger *zap.Logger) (*mdns.Conn, error) {
	var (
		pc4 *ipv4.PacketConn
		pc6 *ipv6.PacketConn
	)

	if addr4, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4); err == nil {
		if l4, err := net.ListenUDP("udp4", addr4); err == nil {
			pc4 = ipv4.NewPacketConn(l4)
		} else {
			logger.Debug("Failed to listen on UDP4 for mDNS", zap.Error(err))
		}
	}
	if addr6, err := net.ResolveUDPAddr("udp6", mdns.DefaultAddressIPv6); err == nil {
		if l6, err := net.ListenUDP("udp6", addr6); err == nil {
			pc6 = ipv6.NewPacketConn(l6)
		} else {
			logger.Debug("Failed to listen on UDP6 for mDNS", zap.Error(err))
		}
	}
	if pc4 == nil && pc6 == nil {
		return nil, ErrNoMulticast
	}

	conn, err := mdns.Server(pc4, pc6, cfg)
	if err != nil {
		if pc4 != nil {
			pc4.Close()
		}
		if pc6 != nil {
			pc6.Close()
		}
		return nil, fmt.Errorf("mdns: failed to start: %w", err)
	}
	return conn, nil
}
