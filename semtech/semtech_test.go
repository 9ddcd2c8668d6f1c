// Copyright 2018 by Thorsten von Eicken, see LICENSE file

package semtech

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

var testEUI = EUI{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

func Test_ParseEUI(t *testing.T) {
	e, err := ParseEUI("0102030405060708")
	if err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	if e != testEUI {
		t.Errorf("EUI got %v expected %v", e, testEUI)
	}
	for _, s := range []string{"", "01020304", "0102030405060708aa", "zz02030405060708"} {
		if _, err := ParseEUI(s); err == nil {
			t.Errorf("EUI %q accepted, expected error", s)
		}
	}
}

func Test_PushDataRoundTrip(t *testing.T) {
	rx := &RxPacket{
		Tmst: 3512348611,
		Chan: 2,
		Freq: 868500000,
		Stat: 1,
		Sf:   9,
		Rssi: -35,
		Lsnr: 5.1,
		Data: []byte{0x40, 1, 2, 3, 4, 5, 6, 7, 8, 9},
	}
	buf, err := EncodePushData(0xBEEF, testEUI, rx)
	if err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	if buf[0] != ProtocolVersion || PacketType(buf[3]) != PushData {
		t.Fatalf("Header got % x", buf[:4])
	}
	if !bytes.Equal(buf[4:12], testEUI[:]) {
		t.Fatalf("EUI got % x expected % x", buf[4:12], testEUI[:])
	}

	pkt, err := Decode(buf)
	if err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	if pkt.Token != 0xBEEF || pkt.Type != PushData {
		t.Errorf("Decoded token %#x type %s", pkt.Token, pkt.Type)
	}

	var body struct {
		Rxpk []*RxPacket `json:"rxpk"`
	}
	if err := json.Unmarshal(pkt.Data[8:], &body); err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	if len(body.Rxpk) != 1 {
		t.Fatalf("Rxpk count got %d expected 1", len(body.Rxpk))
	}
	got := body.Rxpk[0]
	if got.Tmst != rx.Tmst || got.Chan != rx.Chan || got.Stat != rx.Stat ||
		got.Sf != rx.Sf || got.Rssi != rx.Rssi || got.Lsnr != rx.Lsnr {
		t.Errorf("Round trip got %+v expected %+v", got, rx)
	}
	// MHz with 6 decimals resolves back to the exact Hz.
	if got.Freq != rx.Freq {
		t.Errorf("Frequency got %d expected %d", got.Freq, rx.Freq)
	}
	if !bytes.Equal(got.Data, rx.Data) {
		t.Errorf("Payload got %+v expected %+v", got.Data, rx.Data)
	}
}

func Test_RxpkFieldOrder(t *testing.T) {
	rx := &RxPacket{Tmst: 1, Sf: 7, Data: []byte{1}}
	js, _ := json.Marshal(rx)
	want := []string{"tmst", "chan", "rfch", "freq", "stat", "modu", "datr",
		"codr", "lsnr", "rssi", "size", "data"}
	last := -1
	for _, f := range want {
		i := strings.Index(string(js), `"`+f+`"`)
		if i < 0 {
			t.Fatalf("Field %q missing in %s", f, js)
		}
		if i < last {
			t.Errorf("Field %q out of order in %s", f, js)
		}
		last = i
	}
	if !strings.Contains(string(js), `"datr":"SF7BW125"`) {
		t.Errorf("Datarate missing in %s", js)
	}
}

func Test_PullRespToTxPacket(t *testing.T) {
	tx := &TxPacket{
		Tmst:        1000000,
		Freq:        869525000,
		Power:       14,
		Sf:          12,
		InvertPolar: true,
		Data:        []byte{0x60, 9, 8, 7, 6, 5},
	}
	buf, err := EncodePullResp(0x1234, tx)
	if err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	pkt, err := Decode(buf)
	if err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	if pkt.Type != PullResp || pkt.Token != 0x1234 {
		t.Fatalf("Decoded token %#x type %s", pkt.Token, pkt.Type)
	}
	got, err := pkt.TxPacket()
	if err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	if got.Tmst != tx.Tmst || got.Freq != tx.Freq || got.Power != tx.Power ||
		got.Sf != tx.Sf || got.InvertPolar != tx.InvertPolar {
		t.Errorf("Round trip got %+v expected %+v", got, tx)
	}
	if !bytes.Equal(got.Data, tx.Data) {
		t.Errorf("Payload got %+v expected %+v", got.Data, tx.Data)
	}

	if _, err := (&Packet{Type: PushAck}).TxPacket(); err == nil {
		t.Errorf("TxPacket from PUSH_ACK accepted, expected error")
	}
}

func Test_PullDataAndTxAck(t *testing.T) {
	buf := EncodePullData(7, testEUI)
	if len(buf) != 12 || PacketType(buf[3]) != PullData {
		t.Fatalf("PULL_DATA got % x", buf)
	}

	ack := EncodeTxAck(7, testEUI, "")
	if len(ack) != 12 || PacketType(ack[3]) != TxAck {
		t.Fatalf("TX_ACK got % x", ack)
	}
	nack := EncodeTxAck(7, testEUI, "TOO_LATE")
	if !strings.Contains(string(nack[12:]), `"error":"TOO_LATE"`) {
		t.Errorf("TX_ACK error payload got %s", nack[12:])
	}
}

var badDatagrams = map[string][]byte{
	"short":        {1, 0},
	"bad-version":  {2, 0, 1, 0},
	"unknown-type": {1, 0, 1, 0x09},
}

func Test_DecodeRejects(t *testing.T) {
	for n, buf := range badDatagrams {
		if _, err := Decode(buf); err == nil {
			t.Errorf("Datagram %s accepted, expected error", n)
		}
	}
}

func Test_MgtDatagrams(t *testing.T) {
	for _, tc := range []struct {
		typ  PacketType
		name string
	}{
		{MgtReset, "MGT_RESET"},
		{MgtSetSF, "MGT_SET_SF"},
		{MgtSetFreq, "MGT_SET_FREQ"},
	} {
		pkt, err := Decode([]byte{1, 0, 1, byte(tc.typ), 9})
		if err != nil {
			t.Fatalf("Unexpected error %v", err)
		}
		if pkt.Type != tc.typ || pkt.Type.String() != tc.name {
			t.Errorf("Type got %s expected %s", pkt.Type, tc.name)
		}
		if len(pkt.Data) != 1 || pkt.Data[0] != 9 {
			t.Errorf("Payload got %+v expected [9]", pkt.Data)
		}
	}
}

func Test_BadDatarate(t *testing.T) {
	js := []byte(`{"modu":"LORA","datr":"4800","data":"AQ=="}`)
	var rx RxPacket
	if err := json.Unmarshal(js, &rx); err == nil {
		t.Errorf("Bad datarate accepted, expected error")
	}
	js = []byte(`{"modu":"FSK","datr":"SF7BW125","data":"AQ=="}`)
	if err := json.Unmarshal(js, &rx); err == nil {
		t.Errorf("FSK modulation accepted, expected error")
	}
}
