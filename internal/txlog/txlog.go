// Package txlog defines the vocabulary of the transaction log: stages, statuses,
// events, and the set algebra the reconciler runs over them.
//
// A transaction's state is entirely a function of the events sharing its ID.
// Nothing in this package mutates an event once built.
package txlog

import (
	"fmt"
	"strings"
	"time"
)

// Stage is a named checkpoint in the agent or worker pipeline
type Stage string

// Agent stages, in pipeline order
const (
	AgentInit     Stage = "AGENT_INIT"
	AgentDump     Stage = "AGENT_DUMP"
	AgentCompress Stage = "AGENT_COMPRESS"
	AgentEncrypt  Stage = "AGENT_ENCRYPT"
	AgentTransfer Stage = "AGENT_TRANSFER"
	AgentEnd      Stage = "AGENT_END"
)

// Worker stages, in pipeline order
const (
	WorkerInit       Stage = "WORKER_INIT"
	WorkerDecrypt    Stage = "WORKER_DECRYPT"
	WorkerDecompress Stage = "WORKER_DECOMPRESS"
	WorkerSchema     Stage = "WORKER_SCHEMA"
	WorkerLoad       Stage = "WORKER_LOAD"
	WorkerETL        Stage = "WORKER_ETL"
	WorkerEnd        Stage = "WORKER_END"
)

var (
	agentStages = []Stage{AgentInit, AgentDump, AgentCompress, AgentEncrypt, AgentTransfer, AgentEnd}

	workerStages = []Stage{WorkerInit, WorkerDecrypt, WorkerDecompress, WorkerSchema, WorkerLoad, WorkerETL, WorkerEnd}
)

// Status is the outcome recorded with a stage
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusWarning Status = "WARNING"
	StatusFail    Status = "FAIL"
	StatusFatal   Status = "FATAL"
)

var statuses = []Status{StatusSuccess, StatusWarning, StatusFail, StatusFatal}

// Actor identifies who is reporting: a remote agent or a local worker.
// The two vocabularies are disjoint.
type Actor int

const (
	ActorAgent Actor = iota
	ActorWorker
)

// String returns a human-readable representation of the actor
func (a Actor) String() string {
	switch a {
	case ActorAgent:
		return "agent"
	case ActorWorker:
		return "worker"
	default:
		return "unknown"
	}
}

// Stages returns the ordered stage vocabulary the actor may report
func (a Actor) Stages() []Stage {
	switch a {
	case ActorAgent:
		return append([]Stage(nil), agentStages...)
	case ActorWorker:
		return append([]Stage(nil), workerStages...)
	default:
		return nil
	}
}

// ParseStage matches s case-insensitively against the actor's vocabulary
func ParseStage(actor Actor, s string) (Stage, error) {
	candidate := Stage(strings.ToUpper(strings.TrimSpace(s)))
	for _, stage := range actor.Stages() {
		if stage == candidate {
			return stage, nil
		}
	}
	return "", &ValidationError{Field: "stage", Reason: fmt.Sprintf("invalid %s stage %q", actor, s)}
}

// ParseStatus matches s case-insensitively against the status vocabulary
func ParseStatus(s string) (Status, error) {
	candidate := Status(strings.ToUpper(strings.TrimSpace(s)))
	for _, status := range statuses {
		if status == candidate {
			return status, nil
		}
	}
	return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("invalid status %q", s)}
}

// Event is one immutable entry of the transaction log
type Event struct {
	ID            int64
	TransactionID string
	Geo           int64
	Timestamp     time.Time
	Stage         Stage
	Status        Status
	Message       string
	Nonce         string
}

// Succeeded reports whether the event records a SUCCESS for its stage
func (e Event) Succeeded() bool {
	return e.Status == StatusSuccess
}
