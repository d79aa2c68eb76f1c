package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "bizgraph/backend/pkg/errors"
)

func seededStore(t *testing.T) (*MemoryStore, string) {
	t.Helper()
	s := NewMemoryStore()
	s.AddNode("Person", "p1", NewProperties(P("name", String("Jon Smith")), P("phone", String("+254712345678"))))
	s.AddNode("Person", "p2", NewProperties(P("name", String("John Smith"))))
	s.AddNode("Company", "B", NewProperties(P("name", String("Acme"))))
	owns, err := s.AddRelationship("OWNS", NodeRef{ID: "p1", Label: "Person"}, NodeRef{ID: "B", Label: "Company"},
		NewProperties(P("percentage", Int(40))))
	require.NoError(t, err)
	return s, owns
}

func TestMemoryStore_FetchEntities(t *testing.T) {
	s, _ := seededStore(t)

	people, err := s.FetchEntities(context.Background(), "Person")
	require.NoError(t, err)
	assert.Equal(t, []Entity{
		{ID: "p1", Name: "Jon Smith", Phone: "+254712345678"},
		{ID: "p2", Name: "John Smith"},
	}, people)

	_, err = s.FetchEntities(context.Background(), "Bad Label")
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeInvalidArgument))
}

func TestMemoryStore_Snapshot(t *testing.T) {
	s, owns := seededStore(t)
	ctx := context.Background()

	snap, err := s.Snapshot(ctx, "Person", "p1")
	require.NoError(t, err)
	require.Len(t, snap.Relationships, 1)
	rel := snap.Relationships[0]
	assert.Equal(t, owns, rel.ElementID)
	assert.Equal(t, "OWNS", rel.Type)
	assert.Equal(t, Endpoint{ID: "p1", Labels: []string{"Person"}}, rel.From)
	assert.Equal(t, Endpoint{ID: "B", Labels: []string{"Company"}}, rel.To)

	_, err = s.Snapshot(ctx, "Company", "p1")
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound))
}

func TestMemoryStore_CommitMovesRelationship(t *testing.T) {
	s, owns := seededStore(t)
	ctx := context.Background()

	uow := NewUnitOfWork().Add(
		MergeRelationship{
			Type:         "OWNS",
			From:         NodeRef{ID: "p2", Label: "Person"},
			To:           NodeRef{ID: "B", Label: "Company"},
			Props:        NewProperties(P("percentage", Int(40))),
			MergedFromID: "p1",
		},
		DeleteRelationship{ElementID: owns, Type: "OWNS", Owner: NodeRef{ID: "p1", Label: "Person"}},
		DeleteNode{Node: NodeRef{ID: "p1", Label: "Person"}, AllowedRemaining: []string{"OWNS"}},
	)
	res, err := s.Commit(ctx, uow)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1}, res.Affected)

	exists, _ := s.NodeExists(ctx, "Person", "p1")
	assert.False(t, exists)

	snap, err := s.Snapshot(ctx, "Person", "p2")
	require.NoError(t, err)
	require.Len(t, snap.Relationships, 1)
	want := NewProperties(P("percentage", Int(40)), P(PropMergedFromID, String("p1")))
	assert.True(t, want.Equal(snap.Relationships[0].Props))
}

func TestMemoryStore_MergeRelationshipReusesTaggedEdge(t *testing.T) {
	s, _ := seededStore(t)
	ctx := context.Background()

	merge := func(pct int64) {
		_, err := s.Commit(ctx, NewUnitOfWork().Add(MergeRelationship{
			Type:         "OWNS",
			From:         NodeRef{ID: "p2", Label: "Person"},
			To:           NodeRef{ID: "B", Label: "Company"},
			Props:        NewProperties(P("percentage", Int(pct))),
			MergedFromID: "p1",
		}))
		require.NoError(t, err)
	}
	merge(40)
	merge(45)

	snap, err := s.Snapshot(ctx, "Person", "p2")
	require.NoError(t, err)
	require.Len(t, snap.Relationships, 1)
	v, _ := snap.Relationships[0].Props.Get("percentage")
	assert.True(t, v.Equal(Int(45)))
}

func TestMemoryStore_FailedExpectationLeavesNoTrace(t *testing.T) {
	s, owns := seededStore(t)
	ctx := context.Background()
	nodes, rels := s.NodeCount(), s.RelationshipCount()

	uow := NewUnitOfWork().Add(
		DeleteRelationship{ElementID: owns, Type: "OWNS", Owner: NodeRef{ID: "p1", Label: "Person"}},
		CreateNode{Node: NodeRef{ID: "p2", Label: "Person"}},
	)
	_, err := s.Commit(ctx, uow)
	require.Error(t, err)

	var conflict *apperrors.ErrConflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "p2", conflict.ID)
	assert.Equal(t, nodes, s.NodeCount())
	assert.Equal(t, rels, s.RelationshipCount())
}

func TestMemoryStore_DeleteNodeGuard(t *testing.T) {
	s, _ := seededStore(t)
	ctx := context.Background()

	// OWNS is still attached and not allowed to remain.
	_, err := s.Commit(ctx, NewUnitOfWork().Add(DeleteNode{Node: NodeRef{ID: "p1", Label: "Person"}}))
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeConflict))

	exists, _ := s.NodeExists(ctx, "Person", "p1")
	assert.True(t, exists)
}

func TestMemoryStore_DeleteGuardsOnProperties(t *testing.T) {
	s, owns := seededStore(t)
	ctx := context.Background()
	p1 := NodeRef{ID: "p1", Label: "Person"}

	stale := NewProperties(P("percentage", Int(35)))
	_, err := s.Commit(ctx, NewUnitOfWork().Add(
		DeleteRelationship{ElementID: owns, Type: "OWNS", Owner: p1, ExpectedProps: &stale},
	))
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeConflict))
	assert.Equal(t, 1, s.RelationshipCount())

	snap, err := s.Snapshot(ctx, "Person", "p1")
	require.NoError(t, err)
	current := snap.Relationships[0].Props
	staleNode := snap.Props.With("phone", String("+254700000000"))
	_, err = s.Commit(ctx, NewUnitOfWork().Add(
		DeleteRelationship{ElementID: owns, Type: "OWNS", Owner: p1, ExpectedProps: &current},
		DeleteNode{Node: p1, ExpectedProps: &staleNode},
	))
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeConflict))
	assert.Equal(t, 3, s.NodeCount())
	assert.Equal(t, 1, s.RelationshipCount())

	res, err := s.Commit(ctx, NewUnitOfWork().Add(
		DeleteRelationship{ElementID: owns, Type: "OWNS", Owner: p1, ExpectedProps: &current},
		DeleteNode{Node: p1, ExpectedProps: &snap.Props},
	))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, res.Affected)
	assert.Equal(t, 2, s.NodeCount())
}

func TestMemoryStore_DeleteTaggedRelationships(t *testing.T) {
	s, _ := seededStore(t)
	ctx := context.Background()
	p2, b := NodeRef{ID: "p2", Label: "Person"}, NodeRef{ID: "B", Label: "Company"}

	_, err := s.AddRelationship("OWNS", p2, b, NewProperties(P(PropMergedFromID, String("p1"))))
	require.NoError(t, err)
	_, err = s.AddRelationship("OWNS", p2, b, NewProperties(P(PropMergedFromID, String("p9"))))
	require.NoError(t, err)

	res, err := s.Commit(ctx, NewUnitOfWork().Add(
		DeleteTaggedRelationships{Type: "OWNS", From: p2, To: b, MergedFromID: "p1"},
		DeleteTaggedRelationships{Type: "OWNS", From: p2, To: b, MergedFromID: "p1"},
	))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, res.Affected)
	assert.Equal(t, 2, s.RelationshipCount())
}

func TestMemoryStore_UnlabeledEndpoint(t *testing.T) {
	s, _ := seededStore(t)
	ctx := context.Background()

	_, err := s.Commit(ctx, NewUnitOfWork().Add(CreateRelationship{
		Type: "RELATED_TO",
		From: NodeRef{ID: "p2", Label: "Person"},
		To:   NodeRef{ID: "B"},
	}))
	require.NoError(t, err)

	_, err = s.Commit(ctx, NewUnitOfWork().Add(CreateRelationship{
		Type: "RELATED_TO",
		From: NodeRef{ID: "p2", Label: "Person"},
		To:   NodeRef{ID: "missing"},
	}))
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeConflict))
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	s, _ := seededStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Commit(ctx, NewUnitOfWork().Add(CreateNode{Node: NodeRef{ID: "p3", Label: "Person"}}))
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeTransientStore))
	exists, _ := s.NodeExists(context.Background(), "Person", "p3")
	assert.False(t, exists)
}
