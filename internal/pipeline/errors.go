package pipeline

import "fmt"

// Stage names the step of the capture pipeline that failed
type Stage string

const (
	StageDisplay Stage = "display resolution"
	StageSession Stage = "session open"
	StageLaunch  Stage = "encoder launch"
	StagePoll    Stage = "frame poll"
	StageWrite   Stage = "sink write"
)

// StageError is a fatal pipeline error tagged with the failing stage
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Wrap tags err with stage; nil stays nil
func Wrap(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}
