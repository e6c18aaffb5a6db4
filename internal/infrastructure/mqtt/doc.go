// Package mqtt connects beaconfence to the broker its beacon scanner uses.
//
// The scanner publishes region notifications and its status; the service
// publishes scanner commands, retained scanner settings and a mirror of every
// dispatched fence event. Topics builds every topic name; see its doc for the
// hierarchy.
//
// The client reconnects automatically, restores subscriptions after each
// reconnect and maintains a retained online/offline status with an LWT on
// beaconfence/system/status.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllRegionStates(), 1,
//	    func(topic string, payload []byte) error {
//	        id, kind, _ := mqtt.ParseRegionTopic(topic)
//	        ...
//	    })
//
// Tests that need a broker carry the integration build tag.
package mqtt
