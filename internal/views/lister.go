package views

import (
	"github.com/diasync/diasync/internal/project"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
)

// ProjectLister adapts the active-object fold to the capsule builders'
// ObjectLister signature. Objects are matched by their project field,
// whatever scope they were published under, newest first.
func ProjectLister(st *shard.Store) project.ObjectLister {
	return func(proj string) (decisions, commitments []record.Object, err error) {
		slug := record.Slugify(proj)
		active, err := ActiveObjects(st, "", record.ObjectDecision, record.ObjectCommitment)
		if err != nil {
			return nil, nil, err
		}
		decisions = []record.Object{}
		commitments = []record.Object{}
		for _, obj := range active {
			if obj.Project != slug {
				continue
			}
			switch obj.Type {
			case record.ObjectDecision:
				decisions = append(decisions, obj)
			case record.ObjectCommitment:
				commitments = append(commitments, obj)
			}
		}
		return decisions, commitments, nil
	}
}
