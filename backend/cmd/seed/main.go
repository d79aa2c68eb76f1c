package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"bizgraph/backend/internal/graph"
	"bizgraph/backend/internal/ontology"
	"bizgraph/backend/pkg/config"
	apperrors "bizgraph/backend/pkg/errors"
	"bizgraph/backend/pkg/logger"
)

func main() {
	schemaOnly := flag.Bool("schema-only", false, "Create constraints and indexes without demo data")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting database seeding...")

	if cfg.UsesMemoryGraph() {
		log.Fatal("Seeding needs a Neo4j server; NEO4J_URI selects the in-memory store")
	}

	registry, err := ontology.LoadFile(cfg.OntologyFile)
	if err != nil {
		log.Fatal("Failed to load ontology", zap.Error(err))
	}

	ctx := context.Background()
	driver, err := graph.NewDriver(ctx, graph.DriverConfig{
		URI:         cfg.Neo4jURI,
		User:        cfg.Neo4jUser,
		Password:    cfg.Neo4jPassword,
		MaxPoolSize: cfg.Neo4jMaxPoolSize,
		Timeout:     cfg.Neo4jTimeout,
	})
	if err != nil {
		log.Fatal("Failed to connect to Neo4j", zap.Error(err))
	}
	store := graph.NewNeo4jStore(driver, cfg.Neo4jDatabase, cfg.MergeTxTimeout)
	defer store.Close(context.Background())

	// Create constraints and indexes
	log.Info("Creating constraints and indexes...")
	if err := store.EnsureSchema(ctx, registry.Labels(), registry.RelationshipTypes()); err != nil {
		log.Fatal("Failed to create schema", zap.Error(err))
	}
	if *schemaOnly {
		log.Info("Schema ready")
		return
	}

	uow := demoGraph()
	res, err := store.Commit(ctx, uow)
	if apperrors.IsErrorType(err, apperrors.ErrorTypeConflict) {
		log.Info("Demo graph already present, skipping", zap.Error(err))
		return
	}
	if err != nil {
		log.Fatal("Failed to seed demo graph", zap.Error(err))
	}

	log.Info("Database seeding completed successfully",
		zap.Int("nodes", uow.Count(graph.KindCreateNode)),
		zap.Int("relationships", uow.Count(graph.KindCreateRelationship)),
		zap.Int("affected", res.Total()),
	)
}

type seedNode struct {
	label   string
	id      string
	name    string
	phone   string
	address string
}

type seedEdge struct {
	relType string
	from    graph.NodeRef
	to      graph.NodeRef
	props   graph.Properties
}

// demoGraph is a small business graph with near-duplicate people and companies.
// p1 and p2 are the same person entered twice; p1 owns 40% of B.
func demoGraph() *graph.UnitOfWork {
	nodes := []seedNode{
		{"Person", "p1", "Jon Smith", "+254712345678", ""},
		{"Person", "p2", "John Smith", "0712 345 678", "12 Kenyatta Avenue, Nairobi"},
		{"Person", "p3", "Mary Wanjiku", "+254700111222", "Plot 4 Moi Road, Mombasa"},
		{"Person", "p4", "Mary Wanjiku", "", "Plot 4 Moi Rd, Mombasa"},
		{"Person", "p5", "Peter Otieno", "+254733000999", ""},
		{"Company", "B", "Acme Ltd", "+254202000000", "Westlands Business Park, Nairobi"},
		{"Company", "B2", "Acme Limited", "020 2000000", "Westlands Business Park Nairobi"},
		{"Company", "C", "Safari Traders", "", "Kisumu"},
		{"Location", "L1", "Nairobi HQ", "", "Westlands Business Park, Nairobi"},
	}

	person := func(id string) graph.NodeRef { return graph.NodeRef{ID: id, Label: "Person"} }
	company := func(id string) graph.NodeRef { return graph.NodeRef{ID: id, Label: "Company"} }
	since := func(y int) graph.Value { return graph.Date(time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)) }

	edges := []seedEdge{
		{"OWNS", person("p1"), company("B"), graph.NewProperties(graph.P("percentage", graph.Int(40)))},
		{"DIRECTOR_OF", person("p2"), company("B"), graph.NewProperties(graph.P("since", since(2018)))},
		{"SHAREHOLDER_OF", person("p3"), company("C"), graph.NewProperties(graph.P("percentage", graph.Float(12.5)))},
		{"EMPLOYED_BY", person("p4"), company("B2"), graph.NewProperties(graph.P("role", graph.String("CFO")))},
		{"RELATED_TO", person("p5"), person("p1"), graph.NewProperties(graph.P("kind", graph.String("business partner")))},
		{"SUPPLIES", company("C"), company("B"), graph.NewProperties(graph.P("active", graph.Bool(true)))},
		{"LOCATED_AT", company("B"), graph.NodeRef{ID: "L1", Label: "Location"}, graph.Properties{}},
	}

	uow := graph.NewUnitOfWork()
	for _, n := range nodes {
		props := graph.NewProperties(graph.P(graph.PropName, graph.String(n.name)))
		if n.phone != "" {
			props.Set(graph.PropPhone, graph.String(n.phone))
		}
		if n.address != "" {
			props.Set(graph.PropAddress, graph.String(n.address))
		}
		uow.Add(graph.CreateNode{Node: graph.NodeRef{ID: n.id, Label: n.label}, Props: props})
	}
	for _, e := range edges {
		uow.Add(graph.CreateRelationship{Type: e.relType, From: e.from, To: e.to, Props: e.props})
	}
	return uow
}
