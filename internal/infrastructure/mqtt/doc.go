// Package mqtt provides the site MQTT client the bridge mirrors feeds onto.
//
// This package manages:
//   - Connection to the local broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored after reconnect
//   - Last Will and Testament (LWT) on obloq/system/status
//   - Connection health monitoring
//
// This is the site-side bus. The cloud session lives inside the OBLOQ
// module and is driven by package obloq over the serial link.
//
//	io.adafruit.com ↔ OBLOQ module ↔ obloqd ↔ site broker ↔ local consumers
//
// # Security Considerations
//
//   - Enable TLS when the broker is not on the loopback interface
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllFeedStates(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
package mqtt
