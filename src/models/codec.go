package models

import (
	"encoding/json"
	"fmt"

	"laserstream-relay/src/helpers"
)

// -----------------------------------------------------------------------------
// Wire Codec
// -----------------------------------------------------------------------------

// Frames are flat JSON objects tagged with "type", e.g.
//
//	{"type":"SlotUpdate","slot":100,"timestamp":1700000000}
//	{"type":"Ping"}

type typeTag struct {
	Type MessageType `json:"type"`
}

// Encode serializes msg into a tagged JSON frame.
func Encode(msg Message) ([]byte, error) {
	var v interface{}

	switch m := msg.(type) {
	case MSlotUpdate:
		v = struct {
			typeTag
			MSlotUpdate
		}{typeTag{TypeSlotUpdate}, m}
	case MAccountUpdate:
		v = struct {
			typeTag
			MAccountUpdate
		}{typeTag{TypeAccountUpdate}, m}
	case MPriceUpdate:
		v = struct {
			typeTag
			MPriceUpdate
		}{typeTag{TypePriceUpdate}, m}
	case MTransactionUpdate:
		v = struct {
			typeTag
			MTransactionUpdate
		}{typeTag{TypeTransactionUpdate}, m}
	case MSubscribe:
		v = struct {
			typeTag
			MSubscribe
		}{typeTag{TypeSubscribe}, m}
	case MUnsubscribe:
		v = struct {
			typeTag
			MUnsubscribe
		}{typeTag{TypeUnsubscribe}, m}
	case MIgnored:
		v = struct {
			typeTag
			MIgnored
		}{typeTag{TypeIgnored}, m}
	case MPing, MPong:
		v = typeTag{m.Type()}
	case nil:
		return nil, fmt.Errorf("cannot encode nil message")
	default:
		return nil, fmt.Errorf("unsupported message %T", msg)
	}

	return json.Marshal(v)
}

// -----------------------------------------------------------------------------

// Decode parses a tagged JSON frame. Malformed frames yield a *helpers.DecodeError;
// well-formed frames of an unknown category decode to MIgnored.
func Decode(data []byte) (Message, error) {
	var tag struct {
		Type *MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, helpers.NewDecodeError("malformed frame", err)
	}
	if tag.Type == nil {
		return nil, helpers.NewDecodeError("frame has no type tag", nil)
	}

	switch *tag.Type {
	case TypeSlotUpdate:
		return decodeAs[MSlotUpdate](data)
	case TypeAccountUpdate:
		return decodeAs[MAccountUpdate](data)
	case TypePriceUpdate:
		return decodeAs[MPriceUpdate](data)
	case TypeTransactionUpdate:
		return decodeAs[MTransactionUpdate](data)
	case TypeSubscribe:
		return decodeAs[MSubscribe](data)
	case TypeUnsubscribe:
		return decodeAs[MUnsubscribe](data)
	case TypePing:
		return MPing{}, nil
	case TypePong:
		return MPong{}, nil
	default:
		return MIgnored{Category: string(*tag.Type)}, nil
	}
}

func decodeAs[T Message](data []byte) (Message, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, helpers.NewDecodeError(fmt.Sprintf("invalid %T frame", v), err)
	}
	return v, nil
}
