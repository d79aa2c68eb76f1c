package graph

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	apperrors "bizgraph/backend/pkg/errors"
)

type nodeKey struct {
	label string
	id    string
}

type memRelationship struct {
	elementID string
	relType   string
	from      nodeKey
	to        nodeKey
	props     Properties
}

type memGraph struct {
	nodes   map[nodeKey]Properties
	rels    map[string]*memRelationship
	nextRel int
}

func (g *memGraph) clone() *memGraph {
	c := &memGraph{
		nodes:   make(map[nodeKey]Properties, len(g.nodes)),
		rels:    make(map[string]*memRelationship, len(g.rels)),
		nextRel: g.nextRel,
	}
	for k, p := range g.nodes {
		c.nodes[k] = p.Clone()
	}
	for id, r := range g.rels {
		cp := *r
		cp.props = r.props.Clone()
		c.rels[id] = &cp
	}
	return c
}

// MemoryStore is an in-process Store. Commit applies a unit of work to a copy of the
// graph and swaps it in only when every expectation holds, so failed commits leave no trace.
type MemoryStore struct {
	mu sync.RWMutex
	g  *memGraph

	// BeforeCommit, when set, runs at the start of Commit before the store is locked.
	BeforeCommit func(uow *UnitOfWork)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{g: &memGraph{
		nodes: map[nodeKey]Properties{},
		rels:  map[string]*memRelationship{},
	}}
}

func (s *MemoryStore) Close(context.Context) error { return nil }

// AddNode inserts or replaces a node.
func (s *MemoryStore) AddNode(label, id string, props Properties) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.g.nodes[nodeKey{label, id}] = props.With(PropID, String(id))
}

// AddRelationship links two existing nodes and returns the new element id.
func (s *MemoryStore) AddRelationship(relType string, from, to NodeRef, props Properties) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fk, tk := nodeKey{from.Label, from.ID}, nodeKey{to.Label, to.ID}
	if _, ok := s.g.nodes[fk]; !ok {
		return "", apperrors.NewNotFound("node", from.ID, from.Label)
	}
	if _, ok := s.g.nodes[tk]; !ok {
		return "", apperrors.NewNotFound("node", to.ID, to.Label)
	}
	return s.g.addRel(relType, fk, tk, props), nil
}

// NodeCount and RelationshipCount report the graph size.
func (s *MemoryStore) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.g.nodes)
}

func (s *MemoryStore) RelationshipCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.g.rels)
}

func (s *MemoryStore) FetchEntities(ctx context.Context, label string) ([]Entity, error) {
	if _, err := quoteIdent("label", label); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entities := []Entity{}
	for k, props := range s.g.nodes {
		if k.label != label {
			continue
		}
		entities = append(entities, Entity{
			ID:      k.id,
			Name:    propString(props, PropName),
			Phone:   propString(props, PropPhone),
			Address: propString(props, PropAddress),
		})
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	return entities, nil
}

func propString(p Properties, key string) string {
	if v, ok := p.Get(key); ok {
		return v.String()
	}
	return ""
}

func (s *MemoryStore) Snapshot(ctx context.Context, label, id string) (*NodeSnapshot, error) {
	if _, err := quoteIdent("label", label); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := nodeKey{label, id}
	props, ok := s.g.nodes[key]
	if !ok {
		return nil, apperrors.NewNotFound("node", id, label)
	}
	snap := &NodeSnapshot{ID: id, Label: label, Props: props.Clone()}
	for _, r := range s.g.rels {
		if r.from != key && r.to != key {
			continue
		}
		snap.Relationships = append(snap.Relationships, RelationshipSnapshot{
			ElementID: r.elementID,
			Type:      r.relType,
			From:      Endpoint{ID: r.from.id, Labels: []string{r.from.label}},
			To:        Endpoint{ID: r.to.id, Labels: []string{r.to.label}},
			Props:     r.props.Clone(),
		})
	}
	sortRelationships(snap.Relationships)
	return snap, nil
}

func (s *MemoryStore) NodeExists(ctx context.Context, label, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.g.nodes[nodeKey{label, id}]
	return ok, nil
}

// Commit applies uow atomically.
func (s *MemoryStore) Commit(ctx context.Context, uow *UnitOfWork) (*CommitResult, error) {
	mutations := uow.Mutations()
	for _, m := range mutations {
		if _, err := buildStatement(m); err != nil {
			return nil, err
		}
	}
	if s.BeforeCommit != nil {
		s.BeforeCommit(uow)
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewTransientStore("memory", "commit", false, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.g.clone()
	res := &CommitResult{Affected: make([]int, len(mutations))}
	for i, m := range mutations {
		n, err := work.apply(m)
		if err != nil {
			return nil, err
		}
		if !m.Expect().Met(n) {
			return nil, expectationFailed(m, n)
		}
		res.Affected[i] = n
	}
	s.g = work
	return res, nil
}

func (g *memGraph) addRel(relType string, from, to nodeKey, props Properties) string {
	g.nextRel++
	id := "mem:" + strconv.Itoa(g.nextRel)
	g.rels[id] = &memRelationship{elementID: id, relType: relType, from: from, to: to, props: props.Clone()}
	return id
}

// resolve returns every node matching ref, in key order.
func (g *memGraph) resolve(ref NodeRef) []nodeKey {
	if ref.Label != "" {
		k := nodeKey{ref.Label, ref.ID}
		if _, ok := g.nodes[k]; ok {
			return []nodeKey{k}
		}
		return nil
	}
	var keys []nodeKey
	for k := range g.nodes {
		if k.id == ref.ID {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].label < keys[j].label })
	return keys
}

func (g *memGraph) sortedRelIDs() []string {
	ids := make([]string, 0, len(g.rels))
	for id := range g.rels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func isTagged(r *memRelationship, mergedFromID string) bool {
	v, ok := r.props.Get(PropMergedFromID)
	return ok && v.Equal(String(mergedFromID))
}

func matchesExpected(current Properties, expected *Properties) bool {
	return expected == nil || current.Equal(*expected)
}

func (g *memGraph) apply(m Mutation) (int, error) {
	switch mut := m.(type) {
	case CreateNode:
		k := nodeKey{mut.Node.Label, mut.Node.ID}
		if _, exists := g.nodes[k]; exists {
			return 0, nil
		}
		g.nodes[k] = mut.Props.With(PropID, String(mut.Node.ID))
		return 1, nil

	case DeleteNode:
		k := nodeKey{mut.Node.Label, mut.Node.ID}
		props, ok := g.nodes[k]
		if !ok || !matchesExpected(props, mut.ExpectedProps) {
			return 0, nil
		}
		allowed := make(map[string]bool, len(mut.AllowedRemaining))
		for _, t := range mut.AllowedRemaining {
			allowed[t] = true
		}
		var attached []string
		for id, r := range g.rels {
			if r.from != k && r.to != k {
				continue
			}
			if !allowed[r.relType] {
				return 0, nil
			}
			attached = append(attached, id)
		}
		for _, id := range attached {
			delete(g.rels, id)
		}
		delete(g.nodes, k)
		return 1, nil

	case MergeRelationship:
		n := 0
		for _, a := range g.resolve(mut.From) {
			for _, b := range g.resolve(mut.To) {
				var existing *memRelationship
				for _, id := range g.sortedRelIDs() {
					r := g.rels[id]
					if r.relType == mut.Type && r.from == a && r.to == b && isTagged(r, mut.MergedFromID) {
						existing = r
						break
					}
				}
				if existing == nil {
					props := mut.Props.With(PropMergedFromID, String(mut.MergedFromID))
					g.addRel(mut.Type, a, b, props)
				} else {
					for _, e := range mut.Props.Without(PropMergedFromID).Entries() {
						existing.props.Set(e.Key, e.Value)
					}
				}
				n++
			}
		}
		return n, nil

	case CreateRelationship:
		n := 0
		for _, a := range g.resolve(mut.From) {
			for _, b := range g.resolve(mut.To) {
				g.addRel(mut.Type, a, b, mut.Props)
				n++
			}
		}
		return n, nil

	case DeleteRelationship:
		r, ok := g.rels[mut.ElementID]
		if !ok || r.relType != mut.Type || !matchesExpected(r.props, mut.ExpectedProps) {
			return 0, nil
		}
		delete(g.rels, mut.ElementID)
		return 1, nil

	case DeleteTaggedRelationships:
		froms := map[nodeKey]bool{}
		for _, k := range g.resolve(mut.From) {
			froms[k] = true
		}
		tos := map[nodeKey]bool{}
		for _, k := range g.resolve(mut.To) {
			tos[k] = true
		}
		n := 0
		for _, id := range g.sortedRelIDs() {
			r := g.rels[id]
			if r.relType == mut.Type && froms[r.from] && tos[r.to] && isTagged(r, mut.MergedFromID) {
				delete(g.rels, id)
				n++
			}
		}
		return n, nil
	}
	return 0, fmt.Errorf("unsupported mutation %T", m)
}
