package relay

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/crypto/ssh"
)

// Responder turns an outbound frame into its reply. A nil reply with a nil
// error means the frame needs no answer.
type Responder interface {
	Respond(ctx context.Context, frame []byte) ([]byte, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, frame []byte) ([]byte, error)

// Respond implements Responder.
func (f ResponderFunc) Respond(ctx context.Context, frame []byte) ([]byte, error) {
	return f(ctx, frame)
}

// Mirror answers ARP requests as if every address were owned by mac, and
// bounces UDP datagrams back to their sender. It stands in for the echo
// host when the bench runs in-process.
func Mirror(mac net.HardwareAddr) Responder {
	return ResponderFunc(func(_ context.Context, frame []byte) ([]byte, error) {
		pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
		eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
		if !ok {
			return nil, fmt.Errorf("relay: mirror: not an Ethernet frame")
		}

		if arp, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP); ok {
			if arp.Operation != layers.ARPRequest {
				return nil, nil
			}
			return serialize(
				&layers.Ethernet{SrcMAC: mac, DstMAC: eth.SrcMAC, EthernetType: layers.EthernetTypeARP},
				&layers.ARP{
					AddrType:          layers.LinkTypeEthernet,
					Protocol:          layers.EthernetTypeIPv4,
					HwAddressSize:     6,
					ProtAddressSize:   4,
					Operation:         layers.ARPReply,
					SourceHwAddress:   mac,
					SourceProtAddress: arp.DstProtAddress,
					DstHwAddress:      arp.SourceHwAddress,
					DstProtAddress:    arp.SourceProtAddress,
				},
			)
		}

		ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		if !ok {
			return nil, nil
		}
		udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok {
			return nil, nil
		}
		rip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: ip.DstIP, DstIP: ip.SrcIP}
		rudp := &layers.UDP{SrcPort: udp.DstPort, DstPort: udp.SrcPort}
		if err := rudp.SetNetworkLayerForChecksum(rip); err != nil {
			return nil, err
		}
		return serialize(
			&layers.Ethernet{SrcMAC: mac, DstMAC: eth.SrcMAC, EthernetType: layers.EthernetTypeIPv4},
			rip, rudp, gopacket.Payload(udp.Payload),
		)
	})
}

// SSHConfig locates the echo host and the command that answers one frame.
type SSHConfig struct {
	Host     string // host or host:port, port 22 by default
	User     string
	Password string
	// Command reads one frame as hex on stdin and writes the reply as hex
	// on stdout. Empty output means no reply.
	Command string
	Timeout time.Duration
}

// SSHResponder answers frames by running a command on the echo host over
// SSH, one session per frame.
type SSHResponder struct {
	cfg    SSHConfig
	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHResponder connects to the echo host.
func NewSSHResponder(cfg SSHConfig) (*SSHResponder, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("relay: ssh responder: command is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	addr := cfg.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}
	config := &ssh.ClientConfig{
		User: cfg.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(cfg.Password),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         cfg.Timeout,
	}
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("relay: ssh dial %s: %w", addr, err)
	}
	return &SSHResponder{cfg: cfg, client: client}, nil
}

// Respond implements Responder.
func (r *SSHResponder) Respond(ctx context.Context, frame []byte) ([]byte, error) {
	r.mu.Lock()
	client := r.client
	r.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("relay: ssh responder closed")
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("relay: ssh session: %w", err)
	}
	defer session.Close()

	stop := context.AfterFunc(ctx, func() { session.Close() })
	defer stop()

	session.Stdin = strings.NewReader(hex.EncodeToString(frame) + "\n")
	var stderr bytes.Buffer
	session.Stderr = &stderr
	out, err := session.Output(r.cfg.Command)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("relay: ssh exec '%s': %w: %s", r.cfg.Command, err, strings.TrimSpace(stderr.String()))
	}
	return decodeReply(out)
}

// Close closes the SSH connection.
func (r *SSHResponder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

func decodeReply(out []byte) ([]byte, error) {
	s := strings.Join(strings.Fields(string(out)), "")
	if s == "" {
		return nil, nil
	}
	reply, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("relay: malformed reply: %w", err)
	}
	return reply, nil
}
