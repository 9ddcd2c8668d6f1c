// Copyright 2018 by Thorsten von Eicken, see LICENSE file

package semtech

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// TxPacket is the JSON "txpk" structure of a PULL_RESP downlink instruction, reduced to the
// LoRa fields a single-channel gateway can act on.
type TxPacket struct {
	Token       uint16 // datagram token of the PULL_RESP that carried this, echoed in TX_ACK
	Immediate   bool   // send as soon as possible, ignoring Tmst
	Tmst        uint32 // gateway microsecond counter value to transmit at
	Freq        uint32 // TX center frequency in Hz
	Power       uint8  // TX output power in dBm
	Sf          byte   // spreading factor
	InvertPolar bool   // transmit with inverted I/Q, the LoRaWAN downlink default
	NoCRC       bool   // disable the physical-layer CRC
	Data        []byte // raw payload bytes
}

func (tx *TxPacket) UnmarshalJSON(data []byte) error {
	var aux struct {
		Immediate   bool    `json:"imme"`
		Tmst        uint32  `json:"tmst"`
		Freq        float64 `json:"freq"`
		Power       uint8   `json:"powe"`
		Modu        string  `json:"modu"`
		Datr        string  `json:"datr"`
		InvertPolar bool    `json:"ipol"`
		NoCRC       bool    `json:"ncrc"`
		Data        string  `json:"data"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Modu != "LORA" {
		return fmt.Errorf("semtech: unsupported modulation %q", aux.Modu)
	}
	var sf, bw int
	if _, err := fmt.Sscanf(aux.Datr, "SF%dBW%d", &sf, &bw); err != nil {
		return fmt.Errorf("semtech: cannot parse datarate %q: %v", aux.Datr, err)
	}
	payload, err := base64.StdEncoding.DecodeString(aux.Data)
	if err != nil {
		return fmt.Errorf("semtech: cannot decode data: %v", err)
	}
	tx.Immediate = aux.Immediate
	tx.Tmst = aux.Tmst
	tx.Freq = uint32(aux.Freq*1e6 + 0.5)
	tx.Power = aux.Power
	tx.Sf = byte(sf)
	tx.InvertPolar = aux.InvertPolar
	tx.NoCRC = aux.NoCRC
	tx.Data = payload
	return nil
}

// MarshalJSON emits the txpk structure the way a network server would; it exists so the
// downlink path can be exercised end to end in tests.
func (tx *TxPacket) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `{"imme":%v`, tx.Immediate)
	fmt.Fprintf(&buf, `,"tmst":%d`, tx.Tmst)
	fmt.Fprintf(&buf, `,"freq":%.6f`, float64(tx.Freq)/1e6)
	fmt.Fprintf(&buf, `,"rfch":0`)
	fmt.Fprintf(&buf, `,"powe":%d`, tx.Power)
	fmt.Fprintf(&buf, `,"modu":"LORA"`)
	fmt.Fprintf(&buf, `,"datr":"SF%dBW125"`, tx.Sf)
	fmt.Fprintf(&buf, `,"codr":"4/5"`)
	fmt.Fprintf(&buf, `,"ipol":%v`, tx.InvertPolar)
	fmt.Fprintf(&buf, `,"ncrc":%v`, tx.NoCRC)
	fmt.Fprintf(&buf, `,"size":%d`, len(tx.Data))
	fmt.Fprintf(&buf, `,"data":"%s"}`, base64.StdEncoding.EncodeToString(tx.Data))
	return buf.Bytes(), nil
}

// EncodePullResp builds a PULL_RESP datagram, the server side of the downlink path. Like
// TxPacket.MarshalJSON it exists for tests and tooling; the gateway itself only decodes these.
func EncodePullResp(token uint16, tx *TxPacket) ([]byte, error) {
	body := struct {
		Txpk *TxPacket `json:"txpk"`
	}{tx}
	js, err := json.Marshal(&body)
	if err != nil {
		return nil, err
	}
	return append(header(token, PullResp), js...), nil
}
