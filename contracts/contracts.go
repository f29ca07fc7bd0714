// Package contracts holds the messages exchanged with other services. Their
// wire names are routed on by producers outside this code base, so the
// namespace of each type is fixed here rather than derived from the Go
// package path.
package contracts

// Namespace is the wire namespace shared by every contract in this package.
const Namespace = "Lpa.Capmatix.KidCalcService.Contracts"

// RuleEngineCommand asks the rule engine to run one task of a workflow.
type RuleEngineCommand struct {
	WorkflowID int    `json:"workflowId"`
	JobID      string `json:"jobId"`
	TaskName   string `json:"taskName"`
}

func (RuleEngineCommand) MessageNamespace() string { return Namespace }
