// Command device-sim imitates a greenhouse sensor/actuator cluster. It
// publishes sensor payloads to the broker (or the raw TCP listener) at a
// fixed interval and actuator payloads whenever the simulated pump or
// fan toggles.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type sensorPayload struct {
	Temperature    float64 `json:"temperature"`
	AirHumidity    float64 `json:"air_humidity"`
	GroundHumidity float64 `json:"ground_humidity"`
}

type actuatorPayload struct {
	Watered bool `json:"watered"`
	Fanned  bool `json:"fanned"`
}

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	tcpAddr := flag.String("tcp", "", "Send newline-framed JSON to this TCP address instead of MQTT")
	sensorTopic := flag.String("sensor-topic", "data/sensor", "Topic for sensor payloads")
	actuatorTopic := flag.String("actuator-topic", "data/actuator", "Topic for actuator payloads")
	interval := flag.Duration("interval", 5*time.Second, "Interval between published sensor readings")
	baseTemp := flag.Float64("base-temp", 22.0, "Baseline temperature in Celsius")
	waterChance := flag.Float64("water-chance", 0.1, "Probability per tick that the pump runs")
	fanChance := flag.Float64("fan-chance", 0.2, "Probability per tick that the fan runs")

	flag.Parse()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var send func(topic string, payload []byte) error

	if *tcpAddr != "" {
		conn, err := net.Dial("tcp", *tcpAddr)
		if err != nil {
			log.Fatalf("failed to connect to tcp listener: %v", err)
		}
		defer conn.Close()
		log.Printf("connected to tcp listener %s", *tcpAddr)

		send = func(_ string, payload []byte) error {
			_, err := conn.Write(append(payload, '\n'))
			return err
		}
	} else {
		clientID := fmt.Sprintf("device-sim-%d", time.Now().UnixNano())
		opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)
		opts = opts.SetOrderMatters(false)

		client := mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Fatalf("failed to connect to broker: %v", token.Error())
		}
		defer client.Disconnect(250)
		log.Printf("connected to MQTT broker %s as %s", *brokerAddr, clientID)

		send = func(topic string, payload []byte) error {
			token := client.Publish(topic, 0, false, payload)
			token.Wait()
			return token.Error()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	publish := func() {
		sensor := sensorPayload{
			Temperature:    *baseTemp + rng.Float64()*4 - 2,
			AirHumidity:    55 + rng.Float64()*20,
			GroundHumidity: 35 + rng.Float64()*20,
		}

		data, err := json.Marshal(sensor)
		if err != nil {
			log.Printf("failed to encode sensor payload: %v", err)
			return
		}
		if err := send(*sensorTopic, data); err != nil {
			log.Printf("failed to send sensor payload: %v", err)
			return
		}
		log.Printf("sent sensor payload: %s", data)

		watered := rng.Float64() < *waterChance
		fanned := rng.Float64() < *fanChance
		if !watered && !fanned {
			return
		}

		actuator := actuatorPayload{Watered: watered, Fanned: fanned}
		data, err = json.Marshal(actuator)
		if err != nil {
			log.Printf("failed to encode actuator payload: %v", err)
			return
		}
		if err := send(*actuatorTopic, data); err != nil {
			log.Printf("failed to send actuator payload: %v", err)
			return
		}
		log.Printf("sent actuator payload: %s", data)
	}

	publish()

	for {
		select {
		case <-ctx.Done():
			log.Println("simulator stopped")
			return
		case <-ticker.C:
			publish()
		}
	}
}
