package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizgraph/backend/internal/graph"
	"bizgraph/backend/internal/ontology"
	apperrors "bizgraph/backend/pkg/errors"
)

func person(id string) graph.NodeRef  { return graph.NodeRef{ID: id, Label: "Person"} }
func company(id string) graph.NodeRef { return graph.NodeRef{ID: id, Label: "Company"} }

// businessGraph holds two duplicate people. p1 owns B, directs C, is related to by p3 and
// has one relationship of a type the ontology does not know.
func businessGraph(t *testing.T) *graph.MemoryStore {
	t.Helper()
	s := graph.NewMemoryStore()
	s.AddNode("Person", "p1", graph.NewProperties(
		graph.P("name", graph.String("Jon Smith")),
		graph.P("phone", graph.String("+254712345678")),
		graph.P("born", graph.Date(time.Date(1980, 5, 17, 0, 0, 0, 0, time.UTC))),
		graph.P("verified", graph.Bool(true)),
	))
	s.AddNode("Person", "p2", graph.NewProperties(graph.P("name", graph.String("John Smith"))))
	s.AddNode("Person", "p3", graph.NewProperties(graph.P("name", graph.String("Mary Wanjiru"))))
	s.AddNode("Company", "B", graph.NewProperties(graph.P("name", graph.String("Acme Ltd"))))
	s.AddNode("Company", "C", graph.NewProperties(graph.P("name", graph.String("Beta Holdings"))))

	mustLink(t, s, "OWNS", person("p1"), company("B"), graph.NewProperties(graph.P("percentage", graph.Int(40))))
	mustLink(t, s, "DIRECTOR_OF", person("p1"), company("C"), graph.NewProperties(
		graph.P("since", graph.Date(time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC))),
	))
	mustLink(t, s, "RELATED_TO", person("p3"), person("p1"), graph.NewProperties(graph.P("kind", graph.String("sibling"))))
	mustLink(t, s, "LEGACY_LINK", person("p1"), company("B"), graph.Properties{})
	return s
}

func mustLink(t *testing.T, s *graph.MemoryStore, relType string, from, to graph.NodeRef, props graph.Properties) {
	t.Helper()
	_, err := s.AddRelationship(relType, from, to, props)
	require.NoError(t, err)
}

// edges renders relationships without element ids so snapshots can be compared.
func edges(t *testing.T, rels []graph.RelationshipSnapshot) []string {
	t.Helper()
	out := make([]string, 0, len(rels))
	for _, r := range rels {
		props, err := json.Marshal(r.Props)
		require.NoError(t, err)
		out = append(out, fmt.Sprintf("(%s)-[%s %s]->(%s)", r.From.ID, r.Type, props, r.To.ID))
	}
	sort.Strings(out)
	return out
}

func snapshot(t *testing.T, s graph.Store, label, id string) *graph.NodeSnapshot {
	t.Helper()
	snap, err := s.Snapshot(context.Background(), label, id)
	require.NoError(t, err)
	return snap
}

func newEngine(s graph.Store, strict bool) *Engine {
	return NewEngine(s, ontology.Default(), EngineOptions{StrictRelationshipTypes: strict})
}

func TestMergeNodes_MovesRelationshipsToSurvivor(t *testing.T) {
	s := businessGraph(t)
	ctx := context.Background()

	details, err := newEngine(s, false).MergeNodes(ctx, MergeRequest{
		MergedID: "p1", SurvivorID: "p2", Label: "Person", MergedBy: "analyst",
	})
	require.NoError(t, err)

	exists, err := s.NodeExists(ctx, "Person", "p1")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Equal(t, []string{
		`(p2)-[DIRECTOR_OF {"merged_from_id":{"kind":"string","value":"p1"},"since":{"kind":"date","value":"2019-01-01"}}]->(C)`,
		`(p2)-[OWNS {"merged_from_id":{"kind":"string","value":"p1"},"percentage":{"kind":"int","value":40}}]->(B)`,
		`(p3)-[RELATED_TO {"kind":{"kind":"string","value":"sibling"},"merged_from_id":{"kind":"string","value":"p1"}}]->(p2)`,
	}, edges(t, snapshot(t, s, "Person", "p2").Relationships))

	name, _ := details.MergedProps.Get("name")
	assert.Equal(t, "Jon Smith", name.AsString())
	require.Len(t, details.MovedRelationships, 3)
	require.Len(t, details.SkippedRelationships, 1)
	assert.Equal(t, SkippedRelationship{Type: "LEGACY_LINK", FromID: "p1", ToID: "B", Reason: SkipUnknownType},
		details.SkippedRelationships[0])

	for _, m := range details.MovedRelationships {
		_, tagged := m.Props.Get(graph.PropMergedFromID)
		assert.False(t, tagged, "recorded props are the originals")
		if m.Type == "OWNS" {
			assert.Equal(t, MovedRelationship{
				FromID: "p1", ToID: "B", Type: "OWNS",
				Props:     graph.NewProperties(graph.P("percentage", graph.Int(40))),
				FromLabel: "Person", ToLabel: "Company",
			}, m)
		}
	}
	// the unknown-type edge is gone with p1
	assert.Equal(t, 7, s.NodeCount()+s.RelationshipCount())
}

func TestMergeAndRestore_RoundTrip(t *testing.T) {
	s := businessGraph(t)
	ctx := context.Background()
	e := newEngine(s, false)

	before := snapshot(t, s, "Person", "p1")
	survivorBefore := snapshot(t, s, "Person", "p2")

	details, err := e.MergeNodes(ctx, MergeRequest{MergedID: "p1", SurvivorID: "p2", Label: "Person", MergedBy: "analyst"})
	require.NoError(t, err)

	// the details survive the ledger's JSON column unchanged
	raw, err := json.Marshal(details)
	require.NoError(t, err)
	var stored Details
	require.NoError(t, json.Unmarshal(raw, &stored))

	require.NoError(t, e.Restore(ctx, RestoreRequest{MergedID: "p1", SurvivorID: "p2", Label: "Person", Details: stored}))

	after := snapshot(t, s, "Person", "p1")
	assert.True(t, before.Props.Equal(after.Props), "want %v got %v", before.Props, after.Props)

	var restorable []graph.RelationshipSnapshot
	for _, r := range before.Relationships {
		if r.Type != "LEGACY_LINK" {
			restorable = append(restorable, r)
		}
	}
	assert.Equal(t, edges(t, restorable), edges(t, after.Relationships))
	assert.Equal(t, edges(t, survivorBefore.Relationships), edges(t, snapshot(t, s, "Person", "p2").Relationships))
}

func TestMergeNodes_OwnershipScenario(t *testing.T) {
	s := graph.NewMemoryStore()
	ctx := context.Background()
	s.AddNode("Person", "p1", graph.NewProperties(graph.P("name", graph.String("Jon Smith"))))
	s.AddNode("Person", "p2", graph.NewProperties(graph.P("name", graph.String("John Smith"))))
	s.AddNode("Company", "B", graph.Properties{})
	mustLink(t, s, "OWNS", person("p1"), company("B"), graph.NewProperties(graph.P("percentage", graph.Int(40))))
	e := newEngine(s, false)

	details, err := e.MergeNodes(ctx, MergeRequest{MergedID: "p1", SurvivorID: "p2", Label: "Person"})
	require.NoError(t, err)
	assert.Equal(t,
		[]string{`(p2)-[OWNS {"merged_from_id":{"kind":"string","value":"p1"},"percentage":{"kind":"int","value":40}}]->(B)`},
		edges(t, snapshot(t, s, "Company", "B").Relationships))

	require.NoError(t, e.Restore(ctx, RestoreRequest{MergedID: "p1", SurvivorID: "p2", Label: "Person", Details: *details}))
	assert.Equal(t,
		[]string{`(p1)-[OWNS {"percentage":{"kind":"int","value":40}}]->(B)`},
		edges(t, snapshot(t, s, "Company", "B").Relationships))
	assert.Empty(t, snapshot(t, s, "Person", "p2").Relationships)
}

func TestMergeNodes_ParallelEdgesCoalesce(t *testing.T) {
	s := graph.NewMemoryStore()
	ctx := context.Background()
	s.AddNode("Person", "p1", graph.Properties{})
	s.AddNode("Person", "p2", graph.Properties{})
	s.AddNode("Company", "B", graph.Properties{})
	mustLink(t, s, "OWNS", person("p1"), company("B"), graph.NewProperties(graph.P("class", graph.String("A"))))
	mustLink(t, s, "OWNS", person("p1"), company("B"), graph.NewProperties(graph.P("class", graph.String("B"))))
	e := newEngine(s, false)

	details, err := e.MergeNodes(ctx, MergeRequest{MergedID: "p1", SurvivorID: "p2", Label: "Person"})
	require.NoError(t, err)
	assert.Len(t, details.MovedRelationships, 2)
	assert.Len(t, snapshot(t, s, "Person", "p2").Relationships, 1)

	require.NoError(t, e.Restore(ctx, RestoreRequest{MergedID: "p1", SurvivorID: "p2", Label: "Person", Details: *details}))
	assert.Len(t, snapshot(t, s, "Person", "p1").Relationships, 2)
	assert.Empty(t, snapshot(t, s, "Person", "p2").Relationships)
}

func TestMergeNodes_EdgeBetweenTheTwoNodes(t *testing.T) {
	s := graph.NewMemoryStore()
	ctx := context.Background()
	s.AddNode("Person", "p1", graph.Properties{})
	s.AddNode("Person", "p2", graph.Properties{})
	mustLink(t, s, "RELATED_TO", person("p1"), person("p2"), graph.Properties{})
	e := newEngine(s, false)

	details, err := e.MergeNodes(ctx, MergeRequest{MergedID: "p1", SurvivorID: "p2", Label: "Person"})
	require.NoError(t, err)
	assert.Equal(t, []string{`(p2)-[RELATED_TO {"merged_from_id":{"kind":"string","value":"p1"}}]->(p2)`},
		edges(t, snapshot(t, s, "Person", "p2").Relationships))

	require.NoError(t, e.Restore(ctx, RestoreRequest{MergedID: "p1", SurvivorID: "p2", Label: "Person", Details: *details}))
	assert.Equal(t, []string{`(p1)-[RELATED_TO {}]->(p2)`}, edges(t, snapshot(t, s, "Person", "p2").Relationships))
}

func TestMergeNodes_Validation(t *testing.T) {
	s := businessGraph(t)
	e := newEngine(s, false)
	ctx := context.Background()

	cases := []struct {
		name  string
		req   MergeRequest
		field string
	}{
		{"unknown label", MergeRequest{MergedID: "p1", SurvivorID: "p2", Label: "Planet"}, "label"},
		{"injection label", MergeRequest{MergedID: "p1", SurvivorID: "p2", Label: "Person) DETACH DELETE (n"}, "label"},
		{"missing merged id", MergeRequest{SurvivorID: "p2", Label: "Person"}, "merged_id"},
		{"missing survivor id", MergeRequest{MergedID: "p1", Label: "Person"}, "survivor_id"},
		{"same node", MergeRequest{MergedID: "p1", SurvivorID: "p1", Label: "Person"}, "survivor_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.MergeNodes(ctx, tc.req)
			var invalid *apperrors.ErrInvalidArgument
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tc.field, invalid.Field)
		})
	}
	assert.Equal(t, 5, s.NodeCount())
}

func TestMergeNodes_NotFound(t *testing.T) {
	s := businessGraph(t)
	e := newEngine(s, false)
	ctx := context.Background()

	_, err := e.MergeNodes(ctx, MergeRequest{MergedID: "ghost", SurvivorID: "p2", Label: "Person"})
	var notFound *apperrors.ErrNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "ghost", notFound.ID)

	_, err = e.MergeNodes(ctx, MergeRequest{MergedID: "p1", SurvivorID: "ghost", Label: "Person"})
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "ghost", notFound.ID)

	// survivor must carry the same label
	_, err = e.MergeNodes(ctx, MergeRequest{MergedID: "p1", SurvivorID: "B", Label: "Person"})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound))

	exists, err := s.NodeExists(ctx, "Person", "p1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMergeNodes_StrictRelationshipTypes(t *testing.T) {
	s := businessGraph(t)
	rels := s.RelationshipCount()

	_, err := newEngine(s, true).MergeNodes(context.Background(), MergeRequest{MergedID: "p1", SurvivorID: "p2", Label: "Person"})
	var invalid *apperrors.ErrInvalidArgument
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "relationship_type", invalid.Field)
	assert.Equal(t, "LEGACY_LINK", invalid.Value)
	assert.Equal(t, 5, s.NodeCount())
	assert.Equal(t, rels, s.RelationshipCount())
}

func TestMergeNodes_ConflictLeavesGraphUntouched(t *testing.T) {
	s := businessGraph(t)
	ctx := context.Background()
	nodes, rels := s.NodeCount(), s.RelationshipCount()

	// an OWNS edge attached between planning and commit must not be lost silently
	s.BeforeCommit = func(*graph.UnitOfWork) {
		s.BeforeCommit = nil
		mustLink(t, s, "OWNS", person("p1"), company("C"), graph.Properties{})
	}

	_, err := newEngine(s, false).MergeNodes(ctx, MergeRequest{MergedID: "p1", SurvivorID: "p2", Label: "Person"})
	var conflict *apperrors.ErrConflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "p1", conflict.ID)
	assert.True(t, apperrors.IsRetryable(err))

	assert.Equal(t, nodes, s.NodeCount())
	assert.Equal(t, rels+1, s.RelationshipCount())
	assert.Empty(t, snapshot(t, s, "Person", "p2").Relationships)
}

func TestMergeNodes_ConcurrentPropertyUpdateConflicts(t *testing.T) {
	s := businessGraph(t)
	ctx := context.Background()
	rels := s.RelationshipCount()

	updated := snapshot(t, s, "Person", "p1").Props.With("phone", graph.String("+254799999999"))
	s.BeforeCommit = func(*graph.UnitOfWork) {
		s.BeforeCommit = nil
		s.AddNode("Person", "p1", updated)
	}

	_, err := newEngine(s, false).MergeNodes(ctx, MergeRequest{MergedID: "p1", SurvivorID: "p2", Label: "Person"})
	var conflict *apperrors.ErrConflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "p1", conflict.ID)
	assert.True(t, apperrors.IsRetryable(err))

	// the update survives and a re-planned merge records it
	assert.Equal(t, rels, s.RelationshipCount())
	phone, _ := snapshot(t, s, "Person", "p1").Props.Get("phone")
	assert.Equal(t, "+254799999999", phone.String())

	details, err := newEngine(s, false).MergeNodes(ctx, MergeRequest{MergedID: "p1", SurvivorID: "p2", Label: "Person"})
	require.NoError(t, err)
	phone, _ = details.MergedProps.Get("phone")
	assert.Equal(t, "+254799999999", phone.String())
}

func TestMergeNodes_CanceledContext(t *testing.T) {
	s := businessGraph(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newEngine(s, false).MergeNodes(ctx, MergeRequest{MergedID: "p1", SurvivorID: "p2", Label: "Person"})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeTransientStore))
	assert.Equal(t, 5, s.NodeCount())
}

func TestRestore_ConflictWhenNodeRecreated(t *testing.T) {
	s := businessGraph(t)
	ctx := context.Background()
	e := newEngine(s, false)

	details, err := e.MergeNodes(ctx, MergeRequest{MergedID: "p1", SurvivorID: "p2", Label: "Person"})
	require.NoError(t, err)
	s.AddNode("Person", "p1", graph.Properties{})
	rels := s.RelationshipCount()

	err = e.Restore(ctx, RestoreRequest{MergedID: "p1", SurvivorID: "p2", Label: "Person", Details: *details})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeConflict))
	assert.Equal(t, rels, s.RelationshipCount())
}

func TestRestore_RejectsIncompleteDetails(t *testing.T) {
	s := businessGraph(t)
	err := newEngine(s, false).Restore(context.Background(), RestoreRequest{
		MergedID: "p9", SurvivorID: "p2", Label: "Person",
		Details: Details{MovedRelationships: []MovedRelationship{{Type: "OWNS", FromID: "p9"}}},
	})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeInvalidArgument))
	assert.Equal(t, 5, s.NodeCount())
}
