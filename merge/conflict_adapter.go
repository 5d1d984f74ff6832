package merge

import "github.com/arborist/branchmerge/conflict"

// toConflictStaging projects the wider merge Staging down to the subset the
// conflict detector reads, so check_conflicts can run against exactly the
// data the merge already loaded instead of issuing its own redundant reads.
func toConflictStaging(s *Staging) *conflict.Staging {
	return &conflict.Staging{
		Branch:            s.Branch,
		CreatedNodes:      s.CreatedNodes,
		CreatedFlowSteps:  s.CreatedFlowSteps,
		RestoredFlowSteps: s.RestoredFlowSteps,
		CreatedIOs:        s.CreatedIOs,
		RestoredIOs:       s.RestoredIOs,
	}
}
