// internal/websocket/utils.go
package websocket

import "encoding/json"

// DecodeData re-decodes a message payload (already unmarshalled into
// interface{}) into target.
func DecodeData(data interface{}, target interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
