package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode unpacks a consumed message into its typed payload.
func Decode[T any](m kafka.Message) (T, error) {
	var t T
	if err := json.Unmarshal(m.Value, &t); err != nil {
		return t, fmt.Errorf("decode %s message: %w", m.Topic, err)
	}
	return t, nil
}
