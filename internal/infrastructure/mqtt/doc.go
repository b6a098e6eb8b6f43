// Package mqtt provides per-thing MQTT sessions to the cloud broker.
//
// Every registered thing opens its own session: the client id is the
// thing's cloud id and the TLS client certificate is the one issued for
// it at registration. Characteristic topics live under the cloud id
// (see Topics). Messages are exchanged at QoS 2 by default.
//
// Usage:
//
//	tlsCfg, err := mqtt.LoadClientTLS(mqtt.CertificateFiles{CA: ca, Cert: cert, Key: key, KeyPassphrase: cloudID})
//	if err != nil {
//	    return err
//	}
//	client, err := mqtt.Connect(mqtt.OptionsFromConfig(cfg.MQTT, cloudID, tlsCfg))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{CloudID: cloudID}
//	err = client.Publish(topics.Characteristic("heart-rate"), payload)
//
// Subscriptions are tracked and restored after an automatic reconnect.
package mqtt
