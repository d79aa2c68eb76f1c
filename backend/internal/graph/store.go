// Package graph is the business-graph store used by the resolution and merge engine:
// a scalar property model, a unit of work of planned mutations, and Neo4j and in-memory
// implementations of Store.
package graph

import "context"

// Property keys the engine reads or writes on graph elements.
const (
	PropID           = "id"
	PropName         = "name"
	PropPhone        = "phone"
	PropAddress      = "address"
	PropMergedFromID = "merged_from_id"
)

// Store is everything the engine needs from the graph database.
type Store interface {
	// FetchEntities returns the matchable fields of every node with label, ordered by id.
	FetchEntities(ctx context.Context, label string) ([]Entity, error)
	// Snapshot reads a node with every incident relationship. Missing node yields NotFound.
	Snapshot(ctx context.Context, label, id string) (*NodeSnapshot, error)
	NodeExists(ctx context.Context, label, id string) (bool, error)
	// Commit applies every mutation in one write transaction or none of them.
	Commit(ctx context.Context, uow *UnitOfWork) (*CommitResult, error)
	Close(ctx context.Context) error
}

// Entity is the matchable view of a node.
type Entity struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// NodeRef addresses a node by business id. An empty Label matches any label.
type NodeRef struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

// Endpoint is one side of a relationship as read from the store.
type Endpoint struct {
	ID     string   `json:"id"`
	Labels []string `json:"labels"`
}

// NodeSnapshot is a node with its properties and incident relationships.
type NodeSnapshot struct {
	ID            string                 `json:"id"`
	Label         string                 `json:"label"`
	Props         Properties             `json:"props"`
	Relationships []RelationshipSnapshot `json:"relationships"`
}

// RelationshipSnapshot is one relationship incident to a snapshotted node.
// Self-loops appear once.
type RelationshipSnapshot struct {
	ElementID string     `json:"element_id"`
	Type      string     `json:"type"`
	From      Endpoint   `json:"from"`
	To        Endpoint   `json:"to"`
	Props     Properties `json:"props"`
}

// CommitResult reports the rows touched by each mutation, in order.
type CommitResult struct {
	Affected []int
}

// Total sums Affected.
func (r *CommitResult) Total() int {
	n := 0
	for _, a := range r.Affected {
		n += a
	}
	return n
}
