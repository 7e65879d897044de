package protocol

import "encoding/json"

// marshalJSON and unmarshalJSON wrap encoding/json for the Envelope
// payload: every variant (HelloPayload, *shelf.StateVector, *shelf.Shelf)
// already implements a stable json.Marshaler, so Envelope.Payload is just
// that encoding, opaque to the envelope itself.
func marshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalJSON(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
