// Copyright 2018 by Thorsten von Eicken, see LICENSE file

// Command loragw runs a single-channel LoRaWAN gateway on an sx1276/rfm95 radio attached over
// SPI, forwarding received frames to a network server using the Semtech packet-forwarder UDP
// protocol and transmitting the downlinks the server sends back. Everything is driven by one
// YAML configuration file, see gateway.Config for the knobs.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kidoman/embd"
	_ "github.com/kidoman/embd/host/all"
	"github.com/things4u/loragw"
	"github.com/things4u/loragw/gateway"
	"github.com/things4u/loragw/semtech"
	"github.com/things4u/loragw/spimux"
	"github.com/things4u/loragw/sx1276"
	"github.com/things4u/loragw/thread"
)

func main() {
	configPath := flag.String("config", "loragw.yml", "path to the YAML configuration file")
	debug := flag.Bool("debug", false, "enable debug output")
	flag.Parse()

	cfg, err := gateway.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
	eui, err := semtech.ParseEUI(cfg.EUI)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}

	var logger sx1276.LogPrintf
	if *debug {
		logger = log.Printf
	}

	radio, dio, err := openRadio(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot open radio: %s\n", err)
		os.Exit(2)
	}
	log.Printf("sx1276 found, chip version %#x", radio.Version())

	gw := gateway.New(radio, dio, *cfg, logger)

	var mq *mq
	if cfg.Mqtt.Host != "" {
		mq, err = newMQ(cfg.Mqtt, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot connect to MQTT broker: %s\n", err)
			os.Exit(2)
		}
		go mq.statsLoop(gw)
	}

	fwd, err := newForwarder(cfg, eui, gw, mq, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot reach %s: %s\n", cfg.Server, err)
		os.Exit(2)
	}
	go fwd.run()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Printf("shutting down")
		gw.Close()
	}()

	// The worker does µs-scale waits between radio register writes, give it a realtime
	// thread if we're allowed one.
	if err := thread.Realtime(10); err != nil {
		log.Printf("no realtime scheduling: %s", err)
	}
	log.Printf("gateway %s up, forwarding to %s", eui, cfg.Server)
	gw.Run()
	if err := gw.Error(); err != nil {
		fmt.Fprintf(os.Stderr, "exiting: %s\n", err)
		os.Exit(2)
	}
}

// openRadio assembles the HAL the config asks for and hands the radio its pins. The dio slice
// is indexed by DIO number; entries may be nil or repeat the same physical pin.
func openRadio(cfg *gateway.Config, logger sx1276.LogPrintf) (*sx1276.Radio, []loragw.GPIO, error) {
	var spiDev loragw.SPI
	var gpioByName func(string) loragw.GPIO
	switch cfg.HAL {
	case "periph":
		s, err := loragw.NewPeriphSPI(cfg.SpiSpeed)
		if err != nil {
			return nil, nil, err
		}
		spiDev, gpioByName = s, loragw.NewPeriphGPIO
	default:
		if err := embd.InitGPIO(); err != nil {
			return nil, nil, err
		}
		if err := embd.InitSPI(); err != nil {
			return nil, nil, err
		}
		spiDev, gpioByName = loragw.NewSPI(cfg.SpiSpeed), loragw.NewGPIO
	}

	if cfg.MuxPin != "" {
		selPin := gpioByName(cfg.MuxPin)
		if selPin == nil {
			return nil, nil, fmt.Errorf("cannot open mux pin %s", cfg.MuxPin)
		}
		side0, side1 := spimux.New(spiDev, selPin)
		if cfg.MuxSide == 0 {
			spiDev = side0
		} else {
			spiDev = side1
		}
	}

	var rst loragw.GPIO
	if cfg.Pins.Rst != "" {
		if rst = gpioByName(cfg.Pins.Rst); rst == nil {
			return nil, nil, fmt.Errorf("cannot open reset pin %s", cfg.Pins.Rst)
		}
	}
	radio, err := sx1276.New(spiDev, sx1276.RadioOpts{
		Reset:  rst,
		Speed:  cfg.SpiSpeed,
		Logger: logger,
	})
	if err != nil {
		return nil, nil, err
	}

	var dio []loragw.GPIO
	for i, name := range []string{cfg.Pins.Dio0, cfg.Pins.Dio1, cfg.Pins.Dio2} {
		if name == "" {
			dio = append(dio, nil)
			continue
		}
		pin := gpioByName(name)
		if pin == nil {
			return nil, nil, fmt.Errorf("cannot open dio%d pin %s", i, name)
		}
		dio = append(dio, pin)
	}
	return radio, dio, nil
}
