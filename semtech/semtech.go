// Copyright 2018 by Thorsten von Eicken, see LICENSE file

// Package semtech implements the UDP wire protocol spoken between a LoRa gateway and a network
// server (the "Semtech packet-forwarder protocol", version 1). Every datagram starts with a
// fixed 4-byte header: protocol version, a pseudo-random 2-byte token, and a packet type byte.
// Uplink data and keepalives carry the gateway EUI after the header; JSON payloads carry the
// radio metadata. Two extra vendor types allow a server to remotely reset the gateway or change
// its spreading factor and channel.
package semtech

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
)

// ProtocolVersion is the only version byte this codec accepts.
const ProtocolVersion = 1

// PacketType is the datagram type discriminator in byte 3 of the header.
type PacketType byte

const (
	PushData PacketType = 0x00 // gateway -> server, uplink frames
	PushAck  PacketType = 0x01 // server -> gateway
	PullData PacketType = 0x02 // gateway -> server, keepalive/registration
	PullResp PacketType = 0x03 // server -> gateway, downlink instruction
	PullAck  PacketType = 0x04 // server -> gateway
	TxAck    PacketType = 0x05 // gateway -> server, downlink confirmation

	// Not in the packet-forwarder spec: remote management of the single-channel gateway.
	MgtReset   PacketType = 0x15
	MgtSetSF   PacketType = 0x16
	MgtSetFreq PacketType = 0x17
)

func (t PacketType) String() string {
	switch t {
	case PushData:
		return "PUSH_DATA"
	case PushAck:
		return "PUSH_ACK"
	case PullData:
		return "PULL_DATA"
	case PullResp:
		return "PULL_RESP"
	case PullAck:
		return "PULL_ACK"
	case TxAck:
		return "TX_ACK"
	case MgtReset:
		return "MGT_RESET"
	case MgtSetSF:
		return "MGT_SET_SF"
	case MgtSetFreq:
		return "MGT_SET_FREQ"
	}
	return fmt.Sprintf("UNKNOWN(%#x)", byte(t))
}

// EUI is the 8-byte gateway identifier carried in uplink datagrams.
type EUI [8]byte

func (e EUI) String() string { return hex.EncodeToString(e[:]) }

// ParseEUI parses a 16-digit hex string into an EUI.
func ParseEUI(s string) (EUI, error) {
	var e EUI
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 8 {
		return e, fmt.Errorf("semtech: invalid gateway EUI %q", s)
	}
	copy(e[:], b)
	return e, nil
}

// Token returns a fresh pseudo-random datagram token.
func Token() uint16 { return uint16(rand.Uint32()) }

// Packet is a decoded datagram header plus whatever follows it.
type Packet struct {
	Version byte
	Token   uint16
	Type    PacketType
	Data    []byte // everything after the 4-byte header
}

// Decode validates the header of an incoming datagram. Unknown packet types and foreign
// protocol versions are errors; the caller logs and drops those, nothing else happens.
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("semtech: datagram too short: %d bytes", len(buf))
	}
	if buf[0] != ProtocolVersion {
		return nil, fmt.Errorf("semtech: unsupported protocol version %d", buf[0])
	}
	p := &Packet{
		Version: buf[0],
		Token:   binary.BigEndian.Uint16(buf[1:3]),
		Type:    PacketType(buf[3]),
		Data:    buf[4:],
	}
	switch p.Type {
	case PushData, PushAck, PullData, PullResp, PullAck, TxAck, MgtReset, MgtSetSF, MgtSetFreq:
		return p, nil
	}
	return nil, fmt.Errorf("semtech: unknown packet type %#x", buf[3])
}

// TxPacket parses the downlink instruction out of a PULL_RESP datagram.
func (p *Packet) TxPacket() (*TxPacket, error) {
	if p.Type != PullResp {
		return nil, fmt.Errorf("semtech: %s carries no txpk", p.Type)
	}
	var body struct {
		Txpk TxPacket `json:"txpk"`
	}
	if err := json.Unmarshal(p.Data, &body); err != nil {
		return nil, fmt.Errorf("semtech: bad PULL_RESP json: %v", err)
	}
	return &body.Txpk, nil
}

// header appends the fixed 4 bytes to a fresh buffer.
func header(token uint16, t PacketType) []byte {
	return []byte{ProtocolVersion, byte(token >> 8), byte(token), byte(t)}
}

// EncodePushData builds an uplink datagram carrying one received frame.
func EncodePushData(token uint16, eui EUI, rx *RxPacket) ([]byte, error) {
	body := struct {
		Rxpk []*RxPacket `json:"rxpk"`
	}{[]*RxPacket{rx}}
	js, err := json.Marshal(&body)
	if err != nil {
		return nil, err
	}
	buf := append(header(token, PushData), eui[:]...)
	return append(buf, js...), nil
}

// EncodePullData builds the keepalive/registration datagram.
func EncodePullData(token uint16, eui EUI) []byte {
	return append(header(token, PullData), eui[:]...)
}

// EncodeTxAck builds the downlink confirmation. A non-empty errStr reports why the
// transmission was refused, using the packet-forwarder's txpk_ack convention.
func EncodeTxAck(token uint16, eui EUI, errStr string) []byte {
	buf := append(header(token, TxAck), eui[:]...)
	if errStr != "" {
		js, _ := json.Marshal(struct {
			Ack struct {
				Error string `json:"error"`
			} `json:"txpk_ack"`
		}{struct {
			Error string `json:"error"`
		}{errStr}})
		buf = append(buf, js...)
	}
	return buf
}
