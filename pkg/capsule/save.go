package capsule

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/savegraph/pkg/record"
	"github.com/roach88/savegraph/pkg/resolver"
)

// Save rebuilds the records of the selected capsules from the live
// objects, then writes them when flush is set. No IDs saves every capsule.
//
// The cache is replaced only after every selected capsule saved cleanly;
// a failing capsule leaves all of them as they were.
func (e *Engine) Save(ctx context.Context, flush bool, ids ...string) error {
	sel, err := e.selectIDs(ids)
	if err != nil {
		return err
	}

	staged := make(map[string]record.Set, len(sel))
	for _, id := range sel {
		set, err := e.saveCapsule(id, e.capsules[id])
		if err != nil {
			return err
		}
		staged[id] = set
	}
	for id, set := range staged {
		e.cache[id] = set
	}

	if !flush {
		return nil
	}
	return e.Flush(ctx, sel...)
}

type queuedNode struct {
	id   string
	node record.Node
}

func (e *Engine) saveCapsule(id string, c record.Capsule) (record.Set, error) {
	session := resolver.New[record.Node]()
	defer session.Close()

	var queue []queuedNode
	session.OnIDCreated(func(refID string, n record.Node) {
		queue = append(queue, queuedNode{id: refID, node: n})
	})
	session.Assign(record.RootID, c)

	set := record.Set{}
	root := record.New()
	set[record.RootID] = root
	if err := e.saveNode(id, record.RootID, c, root, session); err != nil {
		return nil, err
	}

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		tag, ok := e.registry.TagOf(next.node)
		if !ok {
			return nil, &Error{
				Code:        CodeUsage,
				CapsuleID:   id,
				ReferenceID: next.id,
				Message:     "save node",
				Err:         fmt.Errorf("%w: node type %T is not registered", record.ErrUsage, next.node),
			}
		}
		rec := record.New()
		rec.SetType(tag)
		set[next.id] = rec
		if err := e.saveNode(id, next.id, next.node, rec, session); err != nil {
			return nil, err
		}
	}

	if latest := e.migrator.Latest(id); latest >= 0 {
		root.SetMigrationIndex(latest)
	}

	e.logger.Debug("capsule saved",
		"capsule", id,
		"records", len(set),
	)
	return set, nil
}

func (e *Engine) saveNode(capsuleID, refID string, n record.Node, rec *record.Record, session *resolver.Session[record.Node]) error {
	w := record.NewWriter(rec, refID, session)
	err := n.Save(w)
	if werr := w.Err(); werr != nil {
		return &Error{Code: CodeUsage, CapsuleID: capsuleID, ReferenceID: refID, Message: "save node", Err: werr}
	}
	if err == nil {
		return nil
	}
	code := CodeSave
	if errors.Is(err, record.ErrUsage) {
		code = CodeUsage
	}
	return &Error{Code: code, CapsuleID: capsuleID, ReferenceID: refID, Message: "save node", Err: err}
}
