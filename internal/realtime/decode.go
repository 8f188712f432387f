package realtime

import "encoding/json"

// decodePayload converts the first handler argument into out. The
// socket.io parser hands payloads over as map[string]any or raw JSON
// strings depending on how the server emitted them; round-tripping
// through JSON normalizes both into our typed structs.
func decodePayload(args []any, out any) bool {
	if len(args) == 0 || args[0] == nil {
		return false
	}

	var raw []byte
	switch v := args[0].(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return false
		}
		raw = data
	}

	return json.Unmarshal(raw, out) == nil
}
