// Package loragw contains the shared hardware-access interfaces for a single-channel LoRa
// gateway built around an SX1276/RFM95 radio on an SPI bus. The gateway listens on one
// configurable channel and spreading factor, forwards received uplinks to a LoRaWAN network
// server using the Semtech UDP packet-forwarder protocol, and relays downlink instructions back
// to the radio. The radio driver lives in the sx1276 directory, the modem state machine and
// gateway logic in gateway, the wire protocol in semtech, and the daemon in cmd/loragw.
package loragw
