package graph

import "fmt"

// MutationKind names a planned graph write.
type MutationKind string

const (
	KindCreateNode                MutationKind = "create_node"
	KindDeleteNode                MutationKind = "delete_node"
	KindMergeRelationship         MutationKind = "merge_relationship"
	KindCreateRelationship        MutationKind = "create_relationship"
	KindDeleteRelationship        MutationKind = "delete_relationship"
	KindDeleteTaggedRelationships MutationKind = "delete_tagged_relationships"
)

// Expectation bounds the rows a mutation must touch. Max < 0 is unbounded.
type Expectation struct {
	Min int
	Max int
}

func exactlyOne() Expectation { return Expectation{Min: 1, Max: 1} }
func anyCount() Expectation   { return Expectation{Min: 0, Max: -1} }

// Met reports whether n rows satisfy the expectation.
func (e Expectation) Met(n int) bool {
	return n >= e.Min && (e.Max < 0 || n <= e.Max)
}

// Mutation is one planned write. Stores apply mutations in order and abort the
// whole unit of work with a Conflict when an expectation is not met.
type Mutation interface {
	Kind() MutationKind
	Expect() Expectation
	// Subject is the node the conflict is reported against.
	Subject() NodeRef
	fmt.Stringer
}

// CreateNode creates a node that must not already exist.
type CreateNode struct {
	Node  NodeRef
	Props Properties
}

// DeleteNode detaches and deletes a node. Every relationship still attached must have
// one of the AllowedRemaining types; otherwise nothing is deleted. A non-nil ExpectedProps
// must equal the node's current property map.
type DeleteNode struct {
	Node             NodeRef
	AllowedRemaining []string
	ExpectedProps    *Properties
}

// MergeRelationship reuses or creates (From)-[Type {merged_from_id}]->(To) and adds Props to it.
type MergeRelationship struct {
	Type         string
	From         NodeRef
	To           NodeRef
	Props        Properties
	MergedFromID string
}

// CreateRelationship creates (From)-[Type]->(To) with exactly Props.
type CreateRelationship struct {
	Type  string
	From  NodeRef
	To    NodeRef
	Props Properties
}

// DeleteRelationship deletes one relationship by store element id. A non-nil
// ExpectedProps must equal the relationship's current property map.
type DeleteRelationship struct {
	ElementID     string
	Type          string
	Owner         NodeRef
	ExpectedProps *Properties
}

// DeleteTaggedRelationships deletes every (From)-[Type {merged_from_id}]->(To), possibly none.
type DeleteTaggedRelationships struct {
	Type         string
	From         NodeRef
	To           NodeRef
	MergedFromID string
}

func (m CreateNode) Kind() MutationKind                { return KindCreateNode }
func (m DeleteNode) Kind() MutationKind                { return KindDeleteNode }
func (m MergeRelationship) Kind() MutationKind         { return KindMergeRelationship }
func (m CreateRelationship) Kind() MutationKind        { return KindCreateRelationship }
func (m DeleteRelationship) Kind() MutationKind        { return KindDeleteRelationship }
func (m DeleteTaggedRelationships) Kind() MutationKind { return KindDeleteTaggedRelationships }

func (m CreateNode) Expect() Expectation                { return exactlyOne() }
func (m DeleteNode) Expect() Expectation                { return exactlyOne() }
func (m MergeRelationship) Expect() Expectation         { return exactlyOne() }
func (m CreateRelationship) Expect() Expectation        { return exactlyOne() }
func (m DeleteRelationship) Expect() Expectation        { return exactlyOne() }
func (m DeleteTaggedRelationships) Expect() Expectation { return anyCount() }

func (m CreateNode) Subject() NodeRef                { return m.Node }
func (m DeleteNode) Subject() NodeRef                { return m.Node }
func (m MergeRelationship) Subject() NodeRef         { return NodeRef{ID: m.MergedFromID} }
func (m CreateRelationship) Subject() NodeRef        { return m.From }
func (m DeleteRelationship) Subject() NodeRef        { return m.Owner }
func (m DeleteTaggedRelationships) Subject() NodeRef { return NodeRef{ID: m.MergedFromID} }

func (m CreateNode) String() string {
	return fmt.Sprintf("create node %s", m.Node)
}

func (m DeleteNode) String() string {
	return fmt.Sprintf("delete node %s", m.Node)
}

func (m MergeRelationship) String() string {
	return fmt.Sprintf("merge %s-[%s {merged_from_id:%s}]->%s", m.From, m.Type, m.MergedFromID, m.To)
}

func (m CreateRelationship) String() string {
	return fmt.Sprintf("create %s-[%s]->%s", m.From, m.Type, m.To)
}

func (m DeleteRelationship) String() string {
	return fmt.Sprintf("delete relationship %s (%s)", m.ElementID, m.Type)
}

func (m DeleteTaggedRelationships) String() string {
	return fmt.Sprintf("delete %s-[%s {merged_from_id:%s}]->%s", m.From, m.Type, m.MergedFromID, m.To)
}

func (r NodeRef) String() string {
	if r.Label == "" {
		return fmt.Sprintf("(%s)", r.ID)
	}
	return fmt.Sprintf("(%s:%s)", r.ID, r.Label)
}

// UnitOfWork is an ordered plan of mutations committed atomically by a Store.
type UnitOfWork struct {
	mutations []Mutation
}

func NewUnitOfWork() *UnitOfWork {
	return &UnitOfWork{}
}

// Add appends mutations and returns the unit of work for chaining.
func (u *UnitOfWork) Add(m ...Mutation) *UnitOfWork {
	u.mutations = append(u.mutations, m...)
	return u
}

func (u *UnitOfWork) Mutations() []Mutation {
	out := make([]Mutation, len(u.mutations))
	copy(out, u.mutations)
	return out
}

func (u *UnitOfWork) Len() int { return len(u.mutations) }

// Count returns how many mutations of kind are planned.
func (u *UnitOfWork) Count(kind MutationKind) int {
	n := 0
	for _, m := range u.mutations {
		if m.Kind() == kind {
			n++
		}
	}
	return n
}
