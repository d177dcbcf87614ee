package ethernet

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/elliotchong/vrouter/pkg/common"
)

// Interface represents a network interface for sending and receiving Ethernet frames.
type Interface struct {
	name       string
	fd         int               // Raw socket file descriptor
	macAddress common.MACAddress // Hardware address of this interface
	index      int               // Interface index
}

// OpenInterface opens a network interface for raw packet capture and transmission.
// This requires root/sudo privileges on Linux.
//
// The interface parameter is the name of the network interface (e.g., "eth0", "wlan0").
func OpenInterface(ifname string) (*Interface, error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, fmt.Errorf("failed to get interface %s: %w", ifname, err)
	}

	if len(iface.HardwareAddr) != 6 {
		return nil, fmt.Errorf("invalid MAC address length: %d", len(iface.HardwareAddr))
	}
	var mac common.MACAddress
	copy(mac[:], iface.HardwareAddr)

	// AF_PACKET/SOCK_RAW with ETH_P_ALL captures every protocol at the
	// device level; htons orders the protocol field network-byte-order.
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create raw socket: %w (you may need root/sudo)", err)
	}

	addr := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind socket to interface: %w", err)
	}

	return &Interface{
		name:       ifname,
		fd:         fd,
		macAddress: mac,
		index:      iface.Index,
	}, nil
}

// Close closes the network interface.
func (i *Interface) Close() error {
	if i.fd >= 0 {
		return unix.Close(i.fd)
	}
	return nil
}

// ReadFrame reads an Ethernet frame from the interface. This is a blocking
// call that waits for incoming packets. The read buffer is drawn from
// common.FrameBufferPool and returned to the pool once the frame has been
// parsed into its own, independently-owned copy.
func (i *Interface) ReadFrame() (*Frame, error) {
	buf := common.FrameBufferPool.Get()
	defer common.FrameBufferPool.Put(buf)

	n, _, err := unix.Recvfrom(i.fd, buf, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to receive packet: %w", err)
	}

	frame, err := Parse(buf[:n])
	if err != nil {
		return nil, fmt.Errorf("failed to parse frame: %w", err)
	}

	return frame, nil
}

// WriteFrame sends an Ethernet frame to the interface.
func (i *Interface) WriteFrame(frame *Frame) error {
	data := frame.Serialize()

	addr := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  i.index,
		Halen:    6,
	}
	copy(addr.Addr[:], frame.Destination[:])

	if err := unix.Sendto(i.fd, data, 0, &addr); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}

	return nil
}

// htons converts a 16-bit integer from host byte order to network byte order.
func htons(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}
