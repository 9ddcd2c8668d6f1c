// Copyright 2018 by Thorsten von Eicken, see LICENSE file

package main

import (
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/things4u/loragw/gateway"
	"github.com/things4u/loragw/semtech"
	"github.com/things4u/loragw/sx1276"
)

// forwarder shuttles datagrams between the gateway and the network server over one connected
// UDP socket. Uplinks and TX acks flow out of run, downlinks and management requests flow in
// through readLoop; neither ever touches the radio directly.
type forwarder struct {
	conn      *net.UDPConn
	eui       semtech.EUI
	gw        *gateway.Gateway
	mq        *mq // may be nil
	keepalive time.Duration
	log       sx1276.LogPrintf
	missed    atomic.Int32 // PULL_DATA keepalives sent since the last PULL_ACK
}

func newForwarder(cfg *gateway.Config, eui semtech.EUI, gw *gateway.Gateway, mq *mq,
	logger sx1276.LogPrintf,
) (*forwarder, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.Server)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	f := &forwarder{
		conn:      conn,
		eui:       eui,
		gw:        gw,
		mq:        mq,
		keepalive: time.Duration(cfg.KeepaliveMs) * time.Millisecond,
		log:       logger,
	}
	if f.log == nil {
		f.log = func(format string, v ...interface{}) {}
	}
	return f, nil
}

// run sends until the gateway worker closes RxChan. The initial PULL_DATA registers us with
// the server so it knows where to aim PULL_RESPs; the ticker keeps NAT mappings alive.
func (f *forwarder) run() {
	go f.readLoop()
	f.pullData()
	keep := time.NewTicker(f.keepalive)
	defer keep.Stop()
	for {
		select {
		case up, ok := <-f.gw.RxChan:
			if !ok {
				f.conn.Close()
				return
			}
			f.pushUplink(up)
		case res := <-f.gw.TxEvt:
			if res.Error != "" {
				f.log("downlink refused: %s", res.Error)
			}
			f.send(semtech.EncodeTxAck(res.Pkt.Token, f.eui, res.Error))
		case <-keep.C:
			f.pullData()
		}
	}
}

// pullData sends one PULL_DATA and keeps score of unanswered ones. Lost acks are normal on
// UDP, a long silent stretch means the server is gone or the NAT mapping died.
func (f *forwarder) pullData() {
	if m := f.missed.Add(1); m > 1 && m%3 == 0 {
		f.log("no PULL_ACK from server for %d keepalives", m-1)
	}
	f.send(semtech.EncodePullData(semtech.Token(), f.eui))
}

// pushUplink wraps one received frame into a PUSH_DATA datagram.
func (f *forwarder) pushUplink(up *gateway.UplinkFrame) {
	rx := &semtech.RxPacket{
		Tmst: up.Tmst,
		Chan: up.Chan,
		Freq: up.Freq,
		Stat: 1,
		Sf:   up.Sf,
		Rssi: up.Rssi,
		Lsnr: up.Snr,
		Data: up.Payload,
	}
	buf, err := semtech.EncodePushData(semtech.Token(), f.eui, rx)
	if err != nil {
		f.log("cannot encode uplink: %s", err)
		return
	}
	f.send(buf)
	f.log("uplink %d bytes SF%d rssi=%d snr=%.1f", len(up.Payload), up.Sf, up.Rssi, up.Snr)
	if f.mq != nil {
		f.mq.Publish("rx", rx)
	}
}

func (f *forwarder) send(buf []byte) {
	if _, err := f.conn.Write(buf); err != nil {
		f.log("udp send: %s", err)
	}
}

// readLoop handles everything the server sends. Malformed datagrams are logged and dropped;
// a socket error is treated as transient because UDP sockets surface ICMP rejects as errors
// while the server may simply be restarting.
func (f *forwarder) readLoop() {
	buf := make([]byte, 2048)
	for {
		n, err := f.conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			time.Sleep(time.Second)
			continue
		}
		pkt, err := semtech.Decode(buf[:n])
		if err != nil {
			f.log("%s", err)
			continue
		}
		switch pkt.Type {
		case semtech.PushAck:
			// nothing to do
		case semtech.PullAck:
			f.missed.Store(0)
		case semtech.PullResp:
			tx, err := pkt.TxPacket()
			if err != nil {
				f.log("%s", err)
				continue
			}
			tx.Token = pkt.Token
			f.gw.TxChan <- tx
		case semtech.MgtReset:
			f.log("server requested a reset")
			f.gw.Restart()
		case semtech.MgtSetSF:
			if len(pkt.Data) >= 1 {
				f.gw.SetSpreadingFactor(pkt.Data[0])
			}
		case semtech.MgtSetFreq:
			if len(pkt.Data) >= 1 {
				f.gw.SetChannel(int(pkt.Data[0]))
			}
		default:
			f.log("ignoring %s from server", pkt.Type)
		}
	}
}
