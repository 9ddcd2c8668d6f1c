// Copyright 2018 by Thorsten von Eicken, see LICENSE file

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/things4u/loragw/gateway"
	"github.com/things4u/loragw/sx1276"
)

const statsInterval = time.Minute

// mq is a handle onto an MQTT broker connection used to publish gateway status. It isolates
// the rest of the code from the crazyness of the paho mqtt client; losing the broker never
// affects packet forwarding.
type mq struct {
	conn   mqtt.Client
	prefix string // topic prefix, e.g. "loragw"
	debug  sx1276.LogPrintf
}

// newMQ connects to the broker. The connection is persistent, i.e., re-establishes itself
// if there is a disconnect.
func newMQ(conf gateway.MqttConfig, debug sx1276.LogPrintf) (*mq, error) {
	hostname, _ := os.Hostname()
	id := "loragw-" + hostname
	if debug != nil {
		debug("Configuring MQTT with client id %s: %s:%d", id, conf.Host, conf.Port)
	}
	mqtt.ERROR = log.New(os.Stderr, "", 0)
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", conf.Host, conf.Port))
	opts.ClientID = id
	opts.Username = conf.User
	opts.Password = conf.Password

	conn := mqtt.NewClient(opts)
	if token := conn.Connect(); !token.WaitTimeout(10 * time.Second) {
		return nil, token.Error()
	}
	log.Printf("MQTT connected")
	return &mq{conn: conn, prefix: conf.Prefix, debug: debug}, nil
}

// Publish JSON-encodes a payload onto a topic under the gateway's prefix. Errors are dropped,
// the persistent client retries delivery on its own.
func (mq *mq) Publish(topic string, payload interface{}) {
	js, err := json.Marshal(payload)
	if err != nil {
		return
	}
	mq.conn.Publish(mq.prefix+"/"+topic, 1, false, js)
}

// statsLoop periodically publishes the gateway's counters and its recent reception history.
func (mq *mq) statsLoop(gw *gateway.Gateway) {
	for range time.Tick(statsInterval) {
		counters, recent := gw.Stats().Snapshot()
		mq.Publish("stats", struct {
			Counters gateway.Counters    `json:"counters"`
			Recent   []gateway.StatEntry `json:"recent"`
		}{counters, recent})
	}
}
