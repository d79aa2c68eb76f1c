package graph

import (
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ============================================================================
// Helper Functions
// ============================================================================

func getStringFromRecord(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func getIntFromRecord(record *neo4j.Record, key string) int {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	if i, ok := val.(int64); ok {
		return int(i)
	}
	if i, ok := val.(int); ok {
		return i
	}
	return 0
}

func getMapFromRecord(record *neo4j.Record, key string) map[string]any {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return map[string]any{}
	}
	if m, ok := val.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func getListFromRecord(record *neo4j.Record, key string) []any {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return nil
	}
	if list, ok := val.([]any); ok {
		return list
	}
	return nil
}

func getStringFromMap(m map[string]any, key, defaultValue string) string {
	val, ok := m[key]
	if !ok || val == nil {
		return defaultValue
	}
	if str, ok := val.(string); ok {
		return str
	}
	return defaultValue
}

func getStringSliceFromMap(m map[string]any, key string) []string {
	val, ok := m[key]
	if !ok || val == nil {
		return []string{}
	}
	if slice, ok := val.([]any); ok {
		result := make([]string, 0, len(slice))
		for _, v := range slice {
			if str, ok := v.(string); ok {
				result = append(result, str)
			}
		}
		sort.Strings(result)
		return result
	}
	return []string{}
}

func getMapFromMap(m map[string]any, key string) map[string]any {
	val, ok := m[key]
	if !ok || val == nil {
		return map[string]any{}
	}
	if mm, ok := val.(map[string]any); ok {
		return mm
	}
	return map[string]any{}
}

func sortRelationships(rels []RelationshipSnapshot) {
	sort.SliceStable(rels, func(i, j int) bool {
		if rels[i].Type != rels[j].Type {
			return rels[i].Type < rels[j].Type
		}
		if rels[i].From.ID != rels[j].From.ID {
			return rels[i].From.ID < rels[j].From.ID
		}
		if rels[i].To.ID != rels[j].To.ID {
			return rels[i].To.ID < rels[j].To.ID
		}
		return rels[i].ElementID < rels[j].ElementID
	})
}
