package util

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// MarshalProtoJSON marshals a protobuf message to JSON format
func MarshalProtoJSON(msg proto.Message) ([]byte, error) {
	marshaler := protojson.MarshalOptions{
		UseProtoNames:   true,
		EmitUnpopulated: false,
	}
	return marshaler.Marshal(msg)
}

// UnmarshalProtoJSON unmarshals a protobuf message from JSON format
func UnmarshalProtoJSON(data []byte, msg proto.Message) error {
	unmarshaler := protojson.UnmarshalOptions{
		DiscardUnknown: true,
	}
	return unmarshaler.Unmarshal(data, msg)
}

// ToStruct converts any JSON-encodable value with an object encoding into a
// structpb.Struct, honouring the value's json tags.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}

	s := &structpb.Struct{}
	if err := UnmarshalProtoJSON(data, s); err != nil {
		return nil, fmt.Errorf("failed to convert value to struct: %w", err)
	}
	return s, nil
}

// FromStruct decodes a structpb.Struct into v using v's json tags.
func FromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return fmt.Errorf("struct is nil")
	}

	data, err := MarshalProtoJSON(s)
	if err != nil {
		return fmt.Errorf("failed to encode struct: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode struct: %w", err)
	}
	return nil
}
