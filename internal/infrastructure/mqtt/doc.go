// Package mqtt provides MQTT connectivity for the BSB-LAN bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - The bridge topic layout (Topics)
//
// # Topics
//
// All topics live below one configurable prefix (default "bsblan"):
//
//	bsblan/status              online/offline, retained, carries the LWT
//	bsblan/health              bridge health, retained
//	bsblan/state/{paramId}     parameter values, retained
//	bsblan/state/info/{key}    gateway info fields, retained
//	bsblan/command/{paramId}   value change requests from clients
//	bsblan/ack/{paramId}       command outcomes
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.CommandWildcard(), 1, handleCommand)
//	err = client.Publish(topics.State("8700"), payload, 1, true)
package mqtt
