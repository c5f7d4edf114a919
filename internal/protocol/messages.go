package protocol

import (
	"github.com/GriffinCanCode/imgfirewall/internal/category"
	"github.com/GriffinCanCode/imgfirewall/internal/policy"
)

// Kind is the wire tag of a message variant.
type Kind string

const (
	KindSandboxReady Kind = "SANDBOX_READY"
	KindModelLoaded  Kind = "MODEL_LOADED"
	KindClassify     Kind = "CLASSIFY"
	KindVerdict      Kind = "VERDICT"
)

// Message is the closed set of variants exchanged between the scan
// coordinator and the sandbox. Only this package can add variants.
type Message interface {
	Kind() Kind
	message()
}

// SandboxReady is sent by the sandbox once it is listening.
type SandboxReady struct {
	Instance string `json:"instance,omitempty"`
}

// ModelLoaded is sent by the sandbox after the model finished loading.
type ModelLoaded struct {
	Categories []category.Category `json:"categories"`
}

// Classify asks the sandbox to classify one encoded image under a policy
// snapshot.
type Classify struct {
	ID       int64         `json:"id"`
	Payload  string        `json:"payload"`
	Settings policy.Config `json:"settings"`
}

// Verdict answers a Classify with the same ID. The top-level fields repeat
// the decision of the first (highest-confidence) prediction.
type Verdict struct {
	ID              int64                  `json:"id"`
	Predictions     []policy.RawPrediction `json:"predictions"`
	Classifications []policy.Evaluation    `json:"classifications"`
	ShouldBlock     bool                   `json:"shouldBlock"`
	PrimaryCategory string                 `json:"primaryCategory,omitempty"`
	Confidence      float64                `json:"confidence"`
	Reason          string                 `json:"reason"`
}

func (SandboxReady) Kind() Kind { return KindSandboxReady }
func (ModelLoaded) Kind() Kind  { return KindModelLoaded }
func (Classify) Kind() Kind     { return KindClassify }
func (Verdict) Kind() Kind      { return KindVerdict }

func (SandboxReady) message() {}
func (ModelLoaded) message()  {}
func (Classify) message()     {}
func (Verdict) message()      {}

// NewVerdict builds a verdict from ordered evaluations, using the first as
// the primary decision.
func NewVerdict(id int64, predictions []policy.RawPrediction, evaluations []policy.Evaluation) Verdict {
	v := Verdict{
		ID:              id,
		Predictions:     predictions,
		Classifications: evaluations,
	}
	if len(evaluations) > 0 {
		primary := evaluations[0]
		v.ShouldBlock = primary.ShouldBlock
		v.PrimaryCategory = primary.PrimaryCategory
		v.Confidence = primary.Confidence
		v.Reason = primary.Reason
	}
	return v
}
