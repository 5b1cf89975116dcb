package relay

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Class is the relay's view of a frame.
type Class int

const (
	ClassOther Class = iota
	ClassARP
	ClassUDP
)

func (c Class) String() string {
	switch c {
	case ClassARP:
		return "arp"
	case ClassUDP:
		return "udp"
	default:
		return "other"
	}
}

// Classify decodes an Ethernet frame far enough to tell whether the
// responder has to answer it.
func Classify(frame []byte) Class {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	if pkt.Layer(layers.LayerTypeARP) != nil {
		return ClassARP
	}
	if pkt.Layer(layers.LayerTypeUDP) != nil {
		return ClassUDP
	}
	return ClassOther
}

var serializeOpts = gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

// ARPRequest builds a broadcast who-has frame for target.
func ARPRequest(srcMAC net.HardwareAddr, src, target netip.Addr) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       layers.EthernetBroadcast,
		EthernetType: layers.EthernetTypeARP,
	}
	s, t := src.As4(), target.As4()
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: s[:],
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    t[:],
	}
	return serialize(eth, arp)
}

// UDPDatagram builds an Ethernet/IPv4/UDP frame carrying payload.
func UDPDatagram(srcMAC, dstMAC net.HardwareAddr, src, dst netip.AddrPort, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src.Addr().AsSlice(),
		DstIP:    dst.Addr().AsSlice(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port()),
		DstPort: layers.UDPPort(dst.Port()),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	return serialize(eth, ip, udp, gopacket.Payload(payload))
}

func serialize(ls ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, ls...); err != nil {
		return nil, fmt.Errorf("relay: serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}
