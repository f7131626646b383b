package database

// Schema and query code are generated from the migrations:
//
//	go generate ./internal/database
//
// The first step rebuilds sqlc/schema.sql by applying every migration to an
// in-memory database; the second regenerates the sqlc query code from it.

//go:generate sh -c "cd ../.. && go run internal/database/tools/generate_schema.go"
//go:generate sh -c "cd ../.. && sqlc generate -f internal/database/sqlc/sqlc.yaml"
