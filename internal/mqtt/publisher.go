package mqtt

import (
	"fmt"
	"log"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"canb0t/internal/canbus"
)

// Publisher mirrors logged frames to an MQTT broker, one topic per
// arbitration identifier: <topic>/<id-hex>. Payloads use the serial-mirror
// line format so any subscriber sees the same text a human at the serial
// console would.
type Publisher struct {
	client MQTT.Client
	topic  string
}

// NewPublisher configures the client and starts the (retrying) connection.
// Broker unavailability never blocks the capture path; frames published
// while disconnected are dropped.
func NewPublisher(brokerURL, clientID, topic string) *Publisher {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetOrderMatters(false)
	opts.OnConnect = func(MQTT.Client) {
		log.Printf("[mqtt] connected to %s", brokerURL)
	}
	opts.OnConnectionLost = func(_ MQTT.Client, err error) {
		log.Printf("[mqtt] connection lost: %v", err)
	}

	client := MQTT.NewClient(opts)
	client.Connect() // retries in the background
	return &Publisher{client: client, topic: topic}
}

// Observe implements logger.Observer.
func (p *Publisher) Observe(f canbus.Frame) {
	if !p.client.IsConnected() {
		return
	}
	topic := fmt.Sprintf("%s/%X", p.topic, f.ID)
	p.client.Publish(topic, 0, false, f.MirrorLine())
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
