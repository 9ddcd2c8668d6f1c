// Copyright 2018 by Thorsten von Eicken, see LICENSE file

package semtech

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// RxPacket is the JSON "rxpk" structure describing one received uplink. Only the LoRa
// modulation fields the single-channel gateway produces are represented; the encoder emits
// them in the order network servers expect and the decoder mirrors it so datagrams round-trip
// exactly.
type RxPacket struct {
	Tmst uint32  // gateway microsecond counter at rx-done
	Chan uint8   // channel table index
	Freq uint32  // center frequency in Hz
	Stat int8    // CRC status: 1 = OK, -1 = fail, 0 = no CRC
	Sf   byte    // spreading factor, bandwidth is always 125kHz
	Rssi int     // packet RSSI in dBm, correction applied
	Lsnr float64 // packet SNR in dB
	Data []byte  // raw payload bytes
}

func (rx *RxPacket) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `{"tmst":%d`, rx.Tmst)
	fmt.Fprintf(&buf, `,"chan":%d`, rx.Chan)
	fmt.Fprintf(&buf, `,"rfch":0`)
	fmt.Fprintf(&buf, `,"freq":%.6f`, float64(rx.Freq)/1e6)
	fmt.Fprintf(&buf, `,"stat":%d`, rx.Stat)
	fmt.Fprintf(&buf, `,"modu":"LORA"`)
	fmt.Fprintf(&buf, `,"datr":"SF%dBW125"`, rx.Sf)
	fmt.Fprintf(&buf, `,"codr":"4/5"`)
	fmt.Fprintf(&buf, `,"lsnr":%.1f`, rx.Lsnr)
	fmt.Fprintf(&buf, `,"rssi":%d`, rx.Rssi)
	fmt.Fprintf(&buf, `,"size":%d`, len(rx.Data))
	fmt.Fprintf(&buf, `,"data":"%s"}`, base64.StdEncoding.EncodeToString(rx.Data))
	return buf.Bytes(), nil
}

func (rx *RxPacket) UnmarshalJSON(data []byte) error {
	var aux struct {
		Tmst uint32  `json:"tmst"`
		Chan uint8   `json:"chan"`
		Freq float64 `json:"freq"`
		Stat int8    `json:"stat"`
		Modu string  `json:"modu"`
		Datr string  `json:"datr"`
		Lsnr float64 `json:"lsnr"`
		Rssi int     `json:"rssi"`
		Data string  `json:"data"`
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
	rx.Tmst = aux.Tmst
	rx.Chan = aux.Chan
	rx.Freq = uint32(aux.Freq*1e6 + 0.5)
	rx.Stat = aux.Stat
	rx.Sf = byte(sf)
	rx.Rssi = aux.Rssi
	rx.Lsnr = aux.Lsnr
	rx.Data = payload
	return nil
}
