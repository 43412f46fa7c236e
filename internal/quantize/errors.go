package quantize

import (
	"errors"
	"fmt"
	"io/fs"
)

var ErrNoShards = errors.New("no shard files configured")

// Stage is a step of a quantization run.
type Stage int

const (
	StageNotStarted Stage = iota
	StageValidating
	StageLoading
	StageQuantizing
	StageSaving
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageNotStarted:
		return "not-started"
	case StageValidating:
		return "validating-inputs"
	case StageLoading:
		return "loading"
	case StageQuantizing:
		return "quantizing"
	case StageSaving:
		return "saving"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// StageError records the stage a run aborted in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// MissingInputError names a required input that does not exist.
type MissingInputError struct {
	Path string
}

func (e *MissingInputError) Error() string { return fmt.Sprintf("%s not found", e.Path) }
func (e *MissingInputError) Unwrap() error { return fs.ErrNotExist }

// DuplicateTensorError is returned when two shards both define a tensor.
type DuplicateTensorError struct {
	Name   string
	First  string
	Second string
}

func (e *DuplicateTensorError) Error() string {
	return fmt.Sprintf("tensor %q defined in both %s and %s", e.Name, e.First, e.Second)
}

// NameCollisionError is returned when a generated side-car name is already
// taken by an input tensor.
type NameCollisionError struct {
	Name   string
	Source string
}

func (e *NameCollisionError) Error() string {
	return fmt.Sprintf("side-car %q for tensor %q collides with an existing tensor", e.Name, e.Source)
}
