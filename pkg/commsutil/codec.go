package commsutil

import (
	"encoding/json"
	"fmt"
	"time"
)

const codecLogPrefix = "commsutil:codec"

// Message is the wire form of every event: the payload plus who sent it and when.
type Message struct {
	Topic  string          `json:"topic"`
	Source string          `json:"source"`
	Time   time.Time       `json:"time"`
	Data   json.RawMessage `json:"data"`
}

// EncodePayload wraps data in a Message and serializes it.
func EncodePayload(topic, source string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s - encode %s payload: %w", codecLogPrefix, topic, err)
	}
	return json.Marshal(Message{Topic: topic, Source: source, Time: time.Now().UTC(), Data: raw})
}

// DecodePayload parses a Message and unmarshals its data into v (which may be nil).
func DecodePayload(data []byte, v interface{}) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%s - decode message: %w", codecLogPrefix, err)
	}
	if v != nil {
		if len(msg.Data) == 0 {
			return nil, fmt.Errorf("%s - message for %s has no data", codecLogPrefix, msg.Topic)
		}
		if err := json.Unmarshal(msg.Data, v); err != nil {
			return nil, fmt.Errorf("%s - decode %s data: %w", codecLogPrefix, msg.Topic, err)
		}
	}
	return &msg, nil
}
