package ctcluster

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Record encoding uses encoding/gob: the spec requires only that
// encode/decode are total inverses and that unknown fields round-trip.
// Extra on ClusterNodeState/SignedTreeHead carries whatever the real log
// software attaches (signature, root hash, arbitrary metadata) verbatim.

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("ctcluster: failed to encode record: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("ctcluster: failed to decode record: %w", err)
	}
	return nil
}

// EncodeNodeState encodes a ClusterNodeState for storage at /nodes/{id}.
func EncodeNodeState(s ClusterNodeState) ([]byte, error) {
	return encodeGob(s)
}

// DecodeNodeState decodes a ClusterNodeState. A malformed row is an
// EncodingError (spec.md §7): callers treat that peer as absent rather
// than crashing.
func DecodeNodeState(data []byte) (ClusterNodeState, error) {
	var s ClusterNodeState
	if err := decodeGob(data, &s); err != nil {
		return ClusterNodeState{}, err
	}
	return s, nil
}

// EncodeConfig encodes a ClusterConfig for storage at /cluster_config.
func EncodeConfig(c ClusterConfig) ([]byte, error) {
	return encodeGob(c)
}

// DecodeConfig decodes a ClusterConfig.
func DecodeConfig(data []byte) (ClusterConfig, error) {
	var c ClusterConfig
	if err := decodeGob(data, &c); err != nil {
		return ClusterConfig{}, err
	}
	return c, nil
}

// EncodeSTH encodes a SignedTreeHead for storage at /serving_sth.
func EncodeSTH(s SignedTreeHead) ([]byte, error) {
	return encodeGob(s)
}

// DecodeSTH decodes a SignedTreeHead.
func DecodeSTH(data []byte) (SignedTreeHead, error) {
	var s SignedTreeHead
	if err := decodeGob(data, &s); err != nil {
		return SignedTreeHead{}, err
	}
	return s, nil
}
