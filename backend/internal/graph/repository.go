package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	apperrors "bizgraph/backend/pkg/errors"
	"bizgraph/backend/pkg/logger"
)

const storeName = "neo4j"

// DriverConfig configures the Neo4j driver.
type DriverConfig struct {
	URI         string
	User        string
	Password    string
	MaxPoolSize int
	Timeout     time.Duration
}

// NewDriver creates a driver and verifies connectivity.
func NewDriver(ctx context.Context, cfg DriverConfig) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.User, cfg.Password, ""),
		func(c *neo4j.Config) {
			if cfg.MaxPoolSize > 0 {
				c.MaxConnectionPoolSize = cfg.MaxPoolSize
			}
			if cfg.Timeout > 0 {
				c.SocketConnectTimeout = cfg.Timeout
			}
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	verifyCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		verifyCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}
	return driver, nil
}

// Neo4jStore implements Store on a Neo4j database. A session is opened per call.
type Neo4jStore struct {
	driver    neo4j.DriverWithContext
	database  string
	txTimeout time.Duration
	logger    *zap.Logger
}

// NewNeo4jStore wraps driver. txTimeout bounds each write transaction; zero uses the server default.
func NewNeo4jStore(driver neo4j.DriverWithContext, database string, txTimeout time.Duration) *Neo4jStore {
	return &Neo4jStore{
		driver:    driver,
		database:  database,
		txTimeout: txTimeout,
		logger:    logger.Named("graph"),
	}
}

// Close closes the Neo4j driver connection
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

// FetchEntities returns the matchable fields of every node with label.
func (s *Neo4jStore) FetchEntities(ctx context.Context, label string) ([]Entity, error) {
	quoted, err := quoteIdent("label", label)
	if err != nil {
		return nil, err
	}

	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, fmt.Sprintf(fetchEntitiesQuery, quoted), nil)
		if err != nil {
			return nil, err
		}
		entities := []Entity{}
		for result.Next(ctx) {
			record := result.Record()
			entities = append(entities, Entity{
				ID:      getStringFromRecord(record, "id"),
				Name:    getStringFromRecord(record, "name"),
				Phone:   getStringFromRecord(record, "phone"),
				Address: getStringFromRecord(record, "address"),
			})
		}
		return entities, result.Err()
	})
	if err != nil {
		return nil, s.classify("fetch_entities", false, err)
	}
	return out.([]Entity), nil
}

// Snapshot reads a node and its incident relationships.
func (s *Neo4jStore) Snapshot(ctx context.Context, label, id string) (*NodeSnapshot, error) {
	quoted, err := quoteIdent("label", label)
	if err != nil {
		return nil, err
	}

	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, fmt.Sprintf(snapshotQuery, quoted), map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			if err := result.Err(); err != nil {
				return nil, err
			}
			return nil, apperrors.NewNotFound("node", id, label)
		}
		return snapshotFromRecord(result.Record(), label, id)
	})
	if err != nil {
		return nil, s.classify("snapshot", false, err)
	}
	return out.(*NodeSnapshot), nil
}

func snapshotFromRecord(record *neo4j.Record, label, id string) (*NodeSnapshot, error) {
	props, err := PropertiesFromNative(getMapFromRecord(record, "props"))
	if err != nil {
		return nil, apperrors.NewInvalidArgument("node", id, err.Error())
	}

	snap := &NodeSnapshot{ID: id, Label: label, Props: props}
	for _, raw := range getListFromRecord(record, "rels") {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		relProps, err := PropertiesFromNative(getMapFromMap(m, "props"))
		if err != nil {
			return nil, apperrors.NewInvalidArgument("relationship", getStringFromMap(m, "element_id", ""), err.Error())
		}
		snap.Relationships = append(snap.Relationships, RelationshipSnapshot{
			ElementID: getStringFromMap(m, "element_id", ""),
			Type:      getStringFromMap(m, "type", ""),
			From:      Endpoint{ID: getStringFromMap(m, "from_id", ""), Labels: getStringSliceFromMap(m, "from_labels")},
			To:        Endpoint{ID: getStringFromMap(m, "to_id", ""), Labels: getStringSliceFromMap(m, "to_labels")},
			Props:     relProps,
		})
	}
	sortRelationships(snap.Relationships)
	return snap, nil
}

// NodeExists reports whether a node with label and id exists.
func (s *Neo4jStore) NodeExists(ctx context.Context, label, id string) (bool, error) {
	quoted, err := quoteIdent("label", label)
	if err != nil {
		return false, err
	}

	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, fmt.Sprintf(nodeExistsQuery, quoted), map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		return getIntFromRecord(record, "c") > 0, nil
	})
	if err != nil {
		return false, s.classify("node_exists", false, err)
	}
	return out.(bool), nil
}

// Commit runs every mutation inside one managed write transaction. A mutation that
// touches an unexpected number of rows aborts the transaction with a Conflict.
func (s *Neo4jStore) Commit(ctx context.Context, uow *UnitOfWork) (*CommitResult, error) {
	mutations := uow.Mutations()
	statements := make([]statement, len(mutations))
	for i, m := range mutations {
		st, err := buildStatement(m)
		if err != nil {
			return nil, err
		}
		statements[i] = st
	}

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	var configurers []func(*neo4j.TransactionConfig)
	if s.txTimeout > 0 {
		configurers = append(configurers, neo4j.WithTxTimeout(s.txTimeout))
	}

	start := time.Now()
	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res := &CommitResult{Affected: make([]int, len(statements))}
		for i, st := range statements {
			result, err := tx.Run(ctx, st.cypher, st.params)
			if err != nil {
				return nil, err
			}
			record, err := result.Single(ctx)
			if err != nil {
				return nil, err
			}
			n := getIntFromRecord(record, "affected")
			if !mutations[i].Expect().Met(n) {
				return nil, expectationFailed(mutations[i], n)
			}
			res.Affected[i] = n
		}
		return res, nil
	}, configurers...)
	if err != nil {
		return nil, s.classify("commit", true, err)
	}

	result := out.(*CommitResult)
	s.logger.Debug("Unit of work committed",
		zap.Int("mutations", len(mutations)),
		zap.Int("affected", result.Total()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// EnsureSchema creates id uniqueness constraints for labels and merged_from_id indexes
// for relationship types. Failures are logged and skipped.
func (s *Neo4jStore) EnsureSchema(ctx context.Context, labels, relTypes []string) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	var stmts []string
	for _, l := range labels {
		quoted, err := quoteIdent("label", l)
		if err != nil {
			return err
		}
		stmts = append(stmts, fmt.Sprintf(nodeConstraintQuery, constraintName("node_id_unique", l), quoted))
	}
	for _, t := range relTypes {
		quoted, err := quoteIdent("relationship_type", t)
		if err != nil {
			return err
		}
		stmts = append(stmts, fmt.Sprintf(relationshipIndexQuery, constraintName("rel_merged_from", t), quoted))
	}

	for _, q := range stmts {
		result, err := session.Run(ctx, q, nil)
		if err == nil {
			_, err = result.Consume(ctx)
		}
		if err != nil {
			s.logger.Warn("Schema statement failed", zap.String("statement", q), zap.Error(err))
		}
	}
	return nil
}

// classify maps driver failures onto the application error taxonomy. Typed errors raised
// inside a transaction function pass through unchanged.
func (s *Neo4jStore) classify(op string, write bool, err error) error {
	if apperrors.TypeOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.NewTransientStore(storeName, op, write, err)
	}
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		switch {
		case strings.Contains(neoErr.Code, "ConstraintValidationFailed"):
			return apperrors.NewConflict("", "", neoErr.Msg)
		case strings.Contains(neoErr.Code, "TransactionTimedOut"):
			return apperrors.NewTransientStore(storeName, op, write, err)
		}
	}
	if neo4j.IsRetryable(err) || neo4j.IsConnectivityError(err) {
		return apperrors.NewTransientStore(storeName, op, write, err)
	}
	return fmt.Errorf("neo4j %s failed: %w", op, err)
}

func expectationFailed(m Mutation, got int) error {
	subject := m.Subject()
	return apperrors.NewConflict(subject.Label, subject.ID, fmt.Sprintf("%s touched %d rows", m, got))
}
