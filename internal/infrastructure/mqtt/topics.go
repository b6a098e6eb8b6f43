package mqtt

import "strings"

// Topics builds broker topics for one thing. Every characteristic topic
// lives under the thing's cloud id:
//
//	topics := mqtt.Topics{CloudID: "b2c1..."}
//	topics.Characteristic("heart-rate") // "b2c1.../heart-rate"
type Topics struct {
	CloudID string
}

// Characteristic returns the full topic for a characteristic topic.
func (t Topics) Characteristic(topic string) string {
	return t.CloudID + "/" + topic
}

// Parse extracts the characteristic topic from a full topic. It reports
// false when the topic belongs to another thing.
func (t Topics) Parse(full string) (string, bool) {
	parts := strings.Split(full, "/")
	if len(parts) < 2 || parts[0] != t.CloudID {
		return "", false
	}
	last := parts[len(parts)-1]
	if last == "" {
		return "", false
	}
	return last, true
}
