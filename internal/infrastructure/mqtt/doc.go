// Package mqtt provides MQTT client connectivity for homebus.
//
// A Client is one participant on the bus, the controller or a simulator.
// It reconnects on its own, replays its subscriptions after a reconnect, and
// publishes a retained Presence ("online", "offline") on the status topic.
// The broker publishes the offline Presence for it if it drops.
//
// # Architecture
//
// The controller and every device simulator talk only through the broker.
// Each device owns one topic under a fixed namespace, and requests and
// replies share it:
//
//	controller  ->  redes2/2312/1/switch_2  ->  switch simulator
//	controller  <-  redes2/2312/1/switch_2  <-  switch simulator
//
// Inbound messages are delivered on separate goroutines (unordered), so a
// handler may publish while other messages keep flowing.
//
// # Usage
//
//	topics := mqtt.TopicsFromConfig(cfg.Topics)
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topics.AllDevices(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	client.Publish(topics.Request("switch", "2"), []byte("TOGGLE"), 1, false)
package mqtt
