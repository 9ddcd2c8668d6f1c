// Copyright 2018 by Thorsten von Eicken, see LICENSE file

package main

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/things4u/loragw"
	"github.com/things4u/loragw/gateway"
	"github.com/things4u/loragw/semtech"
	"github.com/things4u/loragw/sim"
	"github.com/things4u/loragw/sx1276"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	for i := 0; i < 200; i++ {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// Test_ForwarderEndToEnd runs a local UDP "network server" against a simulated radio:
// registration, keepalive-ack accounting, and a downlink acknowledged with TX_ACK.
func Test_ForwarderEndToEnd(t *testing.T) {
	srv, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	defer srv.Close()

	cfg := gateway.Config{Server: srv.LocalAddr().String(), EUI: "0102030405060708",
		KeepaliveMs: 50}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	eui, err := semtech.ParseEUI(cfg.EUI)
	if err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	chip := sim.New()
	radio, err := sx1276.New(chip, sx1276.RadioOpts{Reset: chip.RST})
	if err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	gw := gateway.New(radio, []loragw.GPIO{chip.DIO0, chip.DIO1, nil}, cfg, nil)
	go gw.Run()
	defer gw.Close()

	f, err := newForwarder(&cfg, eui, gw, nil, nil)
	if err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	go f.run()

	// The first datagram registers the gateway for downlinks.
	buf := make([]byte, 2048)
	srv.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, addr, err := srv.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	pkt, err := semtech.Decode(buf[:n])
	if err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	if pkt.Type != semtech.PullData || !bytes.Equal(pkt.Data, eui[:]) {
		t.Fatalf("First datagram got %s %x expected PULL_DATA with our EUI", pkt.Type, pkt.Data)
	}

	// Unanswered keepalives accumulate; one PULL_ACK clears the score.
	waitFor(t, "missed keepalives", func() bool { return f.missed.Load() >= 3 })
	srv.WriteToUDP([]byte{1, 0, 0, byte(semtech.PullAck)}, addr)
	// The next keepalive may already have fired when we look, so accept a count of one.
	waitFor(t, "keepalive ack", func() bool { return f.missed.Load() <= 1 })

	// Push a downlink through and collect its TX_ACK.
	payload := []byte{0x60, 1, 2, 3}
	resp, err := semtech.EncodePullResp(0x0505, &semtech.TxPacket{
		Immediate: true, Freq: 868100000, Sf: 7, InvertPolar: true, Data: payload,
	})
	if err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	srv.WriteToUDP(resp, addr)
	deadline := time.Now().Add(2 * time.Second)
	for pkt.Type != semtech.TxAck {
		srv.SetReadDeadline(deadline)
		if n, _, err = srv.ReadFromUDP(buf); err != nil {
			t.Fatalf("No TX_ACK received: %v", err)
		}
		if pkt, err = semtech.Decode(buf[:n]); err != nil {
			t.Fatalf("Unexpected error %v", err)
		}
	}
	if pkt.Token != 0x0505 {
		t.Errorf("TX_ACK token got %#x expected 0x0505", pkt.Token)
	}
	if len(pkt.Data) > 8 {
		t.Errorf("TX_ACK reported an error: %s", pkt.Data[8:])
	}
	sent := chip.TxLog()
	if len(sent) != 1 || !bytes.Equal(sent[0], payload) {
		t.Errorf("Transmit log got %+v expected the downlink payload", sent)
	}
}
