// Copyright 2018 by Thorsten von Eicken, see LICENSE file

package gateway

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the gateway configuration, read once at startup. Feature selection (CAD, hopping,
// board pin profile) is resolved here into plain values the state machine branches on.
type Config struct {
	Server string `yaml:"server"` // host:port of the network server
	EUI    string `yaml:"eui"`    // 16 hex digit gateway identifier

	HAL      string `yaml:"hal"`       // "embd" or "periph"
	Board    string `yaml:"board"`     // "hallard", "comresult" or "custom"
	Pins     Pins   `yaml:"pins"`      // explicit mapping, required for "custom"
	SpiSpeed int64  `yaml:"spi_speed"` // SPI clock in Hz
	MuxPin   string `yaml:"mux_pin"`   // chip-select demux pin when two radios share the bus
	MuxSide  int    `yaml:"mux_side"`  // which side of the demux this radio sits on, 0 or 1

	Channel  int  `yaml:"channel"`   // initial channel table index
	SF       int  `yaml:"sf"`        // initial spreading factor, 7..12
	Power    int  `yaml:"power"`     // TX power in dBm for downlinks without one
	SyncWord byte `yaml:"sync_word"` // LoRa sync word, 0x34 for public LoRaWAN

	CAD           bool `yaml:"cad"`             // channel activity detection before receiving
	Hop           bool `yaml:"hop"`             // frequency hopping across the channel table
	HopChannels   int  `yaml:"hop_channels"`    // how many table entries to cycle through
	HopIntervalMs int  `yaml:"hop_interval_ms"` // elapsed-time hop schedule

	// Tunables, zero selects the default. The RSSI settle waits exist because the chip needs
	// a minimum time after a mode or frequency write before its RSSI reading is real;
	// under-waiting produces false activity detections. The "down" pair applies in the
	// window right after a transmission.
	CadRssiMin     int `yaml:"cad_rssi_min"`      // dBm floor to accept CAD activity
	CadRssiMinDown int `yaml:"cad_rssi_min_down"` // dBm floor right after a TX
	RssiWaitUs     int `yaml:"rssi_wait_us"`      // settle before an RSSI reading
	RssiWaitDownUs int `yaml:"rssi_wait_down_us"` // settle right after a TX

	StatDepth   int        `yaml:"stat_depth"` // reception history ring size
	KeepaliveMs int        `yaml:"keepalive_ms"`
	Mqtt        MqttConfig `yaml:"mqtt"`
}

// Pins names the GPIO pins a board wires the radio's signal lines to. Dio0 carries
// rx-done/tx-done/cad-done, Dio1 rx-timeout/cad-detected, Dio2 is only used with frequency
// hopping. Pins may share one physical line (the Hallard board ties all three DIOs together).
type Pins struct {
	Dio0 string `yaml:"dio0"`
	Dio1 string `yaml:"dio1"`
	Dio2 string `yaml:"dio2"`
	Rst  string `yaml:"rst"` // radio reset, may be empty
}

// MqttConfig describes the optional MQTT status connection.
type MqttConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"` // topic prefix, e.g. "loragw"
}

// boardPins are the pin profiles for the known gateway boards.
var boardPins = map[string]Pins{
	"hallard":   {Dio0: "15", Dio1: "15", Dio2: "15", Rst: "0"},
	"comresult": {Dio0: "5", Dio1: "4", Dio2: "0", Rst: ""},
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fills in defaults and rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("config: server must be set")
	}
	if len(c.EUI) != 16 {
		return fmt.Errorf("config: eui must be 16 hex digits, got %q", c.EUI)
	}
	switch c.HAL {
	case "":
		c.HAL = "embd"
	case "embd", "periph":
	default:
		return fmt.Errorf("config: unknown hal %q", c.HAL)
	}
	switch c.Board {
	case "":
		c.Board = "hallard"
		c.Pins = boardPins["hallard"]
	case "custom":
		if c.Pins.Dio0 == "" {
			return fmt.Errorf("config: custom board needs at least pins.dio0")
		}
	default:
		p, ok := boardPins[c.Board]
		if !ok {
			return fmt.Errorf("config: unknown board %q", c.Board)
		}
		c.Pins = p
	}
	if c.SpiSpeed == 0 {
		c.SpiSpeed = 8 * 1000 * 1000
	}
	if c.MuxSide < 0 || c.MuxSide > 1 {
		return fmt.Errorf("config: mux_side must be 0 or 1, got %d", c.MuxSide)
	}
	if c.SF == 0 {
		c.SF = 7
	}
	if c.SF < 7 || c.SF > 12 {
		return fmt.Errorf("config: sf must be 7..12, got %d", c.SF)
	}
	if c.Channel < 0 || c.Channel >= len(EU868Channels) {
		return fmt.Errorf("config: channel must be 0..%d, got %d", len(EU868Channels)-1, c.Channel)
	}
	if c.Power == 0 {
		c.Power = 14
	}
	if c.SyncWord == 0 {
		c.SyncWord = 0x34
	}
	if c.HopChannels == 0 {
		c.HopChannels = 3 // minimum a LoRa-compliant gateway should cover
	}
	if c.HopChannels < 1 || c.HopChannels > len(EU868Channels) {
		return fmt.Errorf("config: hop_channels must be 1..%d", len(EU868Channels))
	}
	if c.HopIntervalMs == 0 {
		c.HopIntervalMs = 3000
	}
	if c.CadRssiMin == 0 {
		c.CadRssiMin = -120
	}
	if c.CadRssiMinDown == 0 {
		c.CadRssiMinDown = -123
	}
	if c.RssiWaitUs == 0 {
		c.RssiWaitUs = 15
	}
	if c.RssiWaitDownUs == 0 {
		c.RssiWaitDownUs = 10
	}
	if c.StatDepth == 0 {
		c.StatDepth = 20
	}
	if c.KeepaliveMs == 0 {
		c.KeepaliveMs = 30000
	}
	if c.Mqtt.Host != "" && c.Mqtt.Port == 0 {
		c.Mqtt.Port = 1883
	}
	if c.Mqtt.Prefix == "" {
		c.Mqtt.Prefix = "loragw"
	}
	return nil
}
