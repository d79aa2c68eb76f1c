package graph

import (
	"fmt"
	"regexp"
	"strings"

	apperrors "bizgraph/backend/pkg/errors"
)

// Labels and relationship types cannot be parameters in Cypher, so they are spliced
// into query text. Only plain identifiers are accepted and they are always backquoted.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func quoteIdent(kind, name string) (string, error) {
	if !identifierPattern.MatchString(name) {
		return "", apperrors.NewInvalidArgument(kind, name, "not a plain identifier")
	}
	return "`" + name + "`", nil
}

// nodePattern renders (variable:Label {id: $param}); an empty label matches any node.
func nodePattern(variable string, ref NodeRef, param string) (string, error) {
	if ref.Label == "" {
		return fmt.Sprintf("(%s {id: $%s})", variable, param), nil
	}
	label, err := quoteIdent("label", ref.Label)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s:%s {id: $%s})", variable, label, param), nil
}

const fetchEntitiesQuery = `
MATCH (n:%s)
WHERE n.id IS NOT NULL
RETURN toString(n.id) AS id,
       coalesce(toString(n.name), '') AS name,
       coalesce(toString(n.phone), '') AS phone,
       coalesce(toString(n.address), '') AS address
ORDER BY id
`

const snapshotQuery = `
MATCH (n:%s {id: $id})
OPTIONAL MATCH (n)-[r]-()
WITH n, r, startNode(r) AS s, endNode(r) AS e
RETURN properties(n) AS props,
       collect(DISTINCT CASE WHEN r IS NULL THEN NULL ELSE {
         element_id: elementId(r),
         type: type(r),
         props: properties(r),
         from_id: toString(s.id),
         from_labels: labels(s),
         to_id: toString(e.id),
         to_labels: labels(e)
       } END) AS rels
`

const nodeExistsQuery = `
MATCH (n:%s {id: $id})
RETURN count(n) AS c
`

const createNodeQuery = `
OPTIONAL MATCH (existing:%[1]s {id: $id})
WITH existing WHERE existing IS NULL
CREATE (n:%[1]s)
SET n = $props, n.id = $id
RETURN count(n) AS affected
`

const deleteNodeQuery = `
MATCH (n:%s {id: $id})
WHERE ($props IS NULL OR properties(n) = $props)
  AND all(t IN [(n)-[r]-() | type(r)] WHERE t IN $allowed)
WITH n, n.id AS nid
DETACH DELETE n
RETURN count(nid) AS affected
`

const mergeRelationshipQuery = `
MATCH %s, %s
MERGE (a)-[r:%s {merged_from_id: $merged_from_id}]->(b)
SET r += $props
RETURN count(r) AS affected
`

const createRelationshipQuery = `
MATCH %s, %s
CREATE (a)-[r:%s]->(b)
SET r = $props
RETURN count(r) AS affected
`

const deleteRelationshipQuery = `
MATCH ()-[r]->()
WHERE elementId(r) = $element_id AND type(r) = $type
  AND ($props IS NULL OR properties(r) = $props)
WITH r
DELETE r
RETURN count(*) AS affected
`

const deleteTaggedRelationshipsQuery = `
MATCH %s-[r:%s {merged_from_id: $merged_from_id}]->%s
WITH r
DELETE r
RETURN count(*) AS affected
`

const nodeConstraintQuery = "CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE"

const relationshipIndexQuery = "CREATE INDEX %s IF NOT EXISTS FOR ()-[r:%s]-() ON (r.merged_from_id)"

// statement is one parameterized Cypher query.
type statement struct {
	cypher string
	params map[string]any
}

// buildStatement renders the Cypher for a mutation.
func buildStatement(m Mutation) (statement, error) {
	switch mut := m.(type) {
	case CreateNode:
		label, err := quoteIdent("label", mut.Node.Label)
		if err != nil {
			return statement{}, err
		}
		return statement{
			cypher: fmt.Sprintf(createNodeQuery, label),
			params: map[string]any{"id": mut.Node.ID, "props": mut.Props.Without(PropID).Native()},
		}, nil

	case DeleteNode:
		label, err := quoteIdent("label", mut.Node.Label)
		if err != nil {
			return statement{}, err
		}
		allowed := mut.AllowedRemaining
		if allowed == nil {
			allowed = []string{}
		}
		return statement{
			cypher: fmt.Sprintf(deleteNodeQuery, label),
			params: map[string]any{"id": mut.Node.ID, "allowed": allowed, "props": expectedNative(mut.ExpectedProps)},
		}, nil

	case MergeRelationship:
		from, to, relType, err := relationshipParts(mut.From, mut.To, mut.Type)
		if err != nil {
			return statement{}, err
		}
		return statement{
			cypher: fmt.Sprintf(mergeRelationshipQuery, from, to, relType),
			params: map[string]any{
				"from_id":        mut.From.ID,
				"to_id":          mut.To.ID,
				"merged_from_id": mut.MergedFromID,
				"props":          mut.Props.Without(PropMergedFromID).Native(),
			},
		}, nil

	case CreateRelationship:
		from, to, relType, err := relationshipParts(mut.From, mut.To, mut.Type)
		if err != nil {
			return statement{}, err
		}
		return statement{
			cypher: fmt.Sprintf(createRelationshipQuery, from, to, relType),
			params: map[string]any{
				"from_id": mut.From.ID,
				"to_id":   mut.To.ID,
				"props":   mut.Props.Native(),
			},
		}, nil

	case DeleteRelationship:
		return statement{
			cypher: deleteRelationshipQuery,
			params: map[string]any{
				"element_id": mut.ElementID,
				"type":       mut.Type,
				"props":      expectedNative(mut.ExpectedProps),
			},
		}, nil

	case DeleteTaggedRelationships:
		from, to, relType, err := relationshipParts(mut.From, mut.To, mut.Type)
		if err != nil {
			return statement{}, err
		}
		return statement{
			cypher: fmt.Sprintf(deleteTaggedRelationshipsQuery, from, relType, to),
			params: map[string]any{
				"from_id":        mut.From.ID,
				"to_id":          mut.To.ID,
				"merged_from_id": mut.MergedFromID,
			},
		}, nil
	}
	return statement{}, fmt.Errorf("unsupported mutation %T", m)
}

// expectedNative is nil when no property guard is requested, which the queries read as null.
func expectedNative(p *Properties) any {
	if p == nil {
		return nil
	}
	return p.Native()
}

func relationshipParts(from, to NodeRef, relType string) (string, string, string, error) {
	a, err := nodePattern("a", from, "from_id")
	if err != nil {
		return "", "", "", err
	}
	b, err := nodePattern("b", to, "to_id")
	if err != nil {
		return "", "", "", err
	}
	t, err := quoteIdent("relationship_type", relType)
	if err != nil {
		return "", "", "", err
	}
	return a, b, t, nil
}

func constraintName(prefix, name string) string {
	return prefix + "_" + strings.ToLower(name)
}
