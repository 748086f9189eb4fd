package controller

import "fmt"

// Stage is a step a frame passes through on its way to the screen.
type Stage int

const (
	// StageCaptured is a frame accepted from the camera.
	StageCaptured Stage = iota
	// StageEncoded is a frame converted into the model input tensor.
	StageEncoded
	// StageInferred is a frame the engine produced raw output for.
	StageInferred
	// StageDecoded is a frame whose output was decoded into candidates.
	StageDecoded
	// StageSuppressed is a frame whose candidates went through NMS.
	StageSuppressed
	// StageMapped is a frame whose detections are in viewport coordinates.
	StageMapped
	// StageDelivered is a frame whose snapshot was published and handed to the sink.
	StageDelivered
)

var stageNames = [...]string{
	StageCaptured:   "captured",
	StageEncoded:    "encoded",
	StageInferred:   "inferred",
	StageDecoded:    "decoded",
	StageSuppressed: "suppressed",
	StageMapped:     "mapped",
	StageDelivered:  "delivered",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// StageError reports the stage a frame failed to reach.
type StageError struct {
	Stage Stage
	Seq   uint64
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("frame %d not %s: %v", e.Seq, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
