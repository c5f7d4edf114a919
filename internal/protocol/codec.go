package protocol

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMissingType = errors.New("message has no type")
	ErrMalformed   = errors.New("malformed message")
)

// IsProtocolError reports whether err came from a bad message rather than
// a broken transport. Receivers drop such messages and keep reading.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, ErrUnknownType) || errors.Is(err, ErrMissingType)
}

type header struct {
	Type Kind `json:"type"`
}

type sandboxReadyWire struct {
	Type Kind `json:"type"`
	SandboxReady
}

type modelLoadedWire struct {
	Type Kind `json:"type"`
	ModelLoaded
}

type classifyWire struct {
	Type Kind `json:"type"`
	Classify
}

type verdictWire struct {
	Type Kind `json:"type"`
	Verdict
}

// Encode serializes a message into its JSON envelope.
func Encode(m Message) ([]byte, error) {
	var wire interface{}
	switch msg := m.(type) {
	case SandboxReady:
		wire = sandboxReadyWire{Type: KindSandboxReady, SandboxReady: msg}
	case ModelLoaded:
		wire = modelLoadedWire{Type: KindModelLoaded, ModelLoaded: msg}
	case Classify:
		wire = classifyWire{Type: KindClassify, Classify: msg}
	case Verdict:
		wire = verdictWire{Type: KindVerdict, Verdict: msg}
	default:
		return nil, fmt.Errorf("encode %T: %w", m, ErrUnknownType)
	}

	data, err := sonic.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return data, nil
}

// Decode parses a JSON envelope into its message variant.
func Decode(data []byte) (Message, error) {
	var h header
	if err := sonic.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode header: %w: %w", ErrMalformed, err)
	}

	switch h.Type {
	case "":
		return nil, ErrMissingType
	case KindSandboxReady:
		var w sandboxReadyWire
		if err := sonic.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w: %w", h.Type, ErrMalformed, err)
		}
		return w.SandboxReady, nil
	case KindModelLoaded:
		var w modelLoadedWire
		if err := sonic.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w: %w", h.Type, ErrMalformed, err)
		}
		return w.ModelLoaded, nil
	case KindClassify:
		var w classifyWire
		if err := sonic.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w: %w", h.Type, ErrMalformed, err)
		}
		return w.Classify, nil
	case KindVerdict:
		var w verdictWire
		if err := sonic.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w: %w", h.Type, ErrMalformed, err)
		}
		return w.Verdict, nil
	default:
		return nil, fmt.Errorf("decode %q: %w", h.Type, ErrUnknownType)
	}
}
