package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"contest-core/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

const usage = "Usage: go run ./cmd/migrate [drop|up|seed]"

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	command := os.Args[1]

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	switch command {
	case "drop":
		if err := dropTables(ctx, conn); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		fmt.Println("✅ All tables dropped successfully")

	case "up":
		if err := createTables(ctx, conn); err != nil {
			log.Fatalf("Failed to create tables: %v", err)
		}
		fmt.Println("✅ All tables created successfully")

	case "seed":
		if err := seedData(ctx, conn); err != nil {
			log.Fatalf("Failed to seed data: %v", err)
		}
		fmt.Println("✅ Data seeded successfully")

	default:
		fmt.Printf("Unknown command: %s\n", command)
		fmt.Println(usage)
		os.Exit(1)
	}
}

func dropTables(ctx context.Context, conn *pgx.Conn) error {
	for _, query := range repository.DropSchema {
		if _, err := conn.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
		fmt.Printf("  Dropped: %s\n", query)
	}

	return nil
}

func createTables(ctx context.Context, conn *pgx.Conn) error {
	for _, query := range repository.Schema {
		if _, err := conn.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w\nQuery: %s", err, query)
		}
		fmt.Printf("  Created: %s\n", getTableName(query))
	}

	return nil
}

// seedData creates an active demo contest with two approved entries
func seedData(ctx context.Context, conn *pgx.Conn) error {
	now := time.Now().UTC()
	contestID := uuid.NewString()

	_, err := conn.Exec(ctx, `
		INSERT INTO contests (id, title, description, start_at, end_at, prize_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'active', $7, $7)
	`, contestID, "Demo Contest", "Seeded contest for local development", now.Add(-time.Hour), now.Add(7*24*time.Hour), "500.00", now)
	if err != nil {
		return fmt.Errorf("failed to seed contest: %w", err)
	}

	entries := []struct {
		participant string
		title       string
	}{
		{"seed-participant-1", "Sunrise Over the Bay"},
		{"seed-participant-2", "City Lights"},
	}
	for i, e := range entries {
		_, err := conn.Exec(ctx, `
			INSERT INTO entries (id, contest_id, participant_id, title, media_ref, moderation_state, moderated_by, moderated_at, created_at)
			VALUES ($1, $2, $3, $4, $5, 'approved', 'seed', $6, $6)
		`, uuid.NewString(), contestID, e.participant, e.title, fmt.Sprintf("media://seed/%d", i+1), now.Add(time.Duration(i)*time.Second))
		if err != nil {
			return fmt.Errorf("failed to seed entry: %w", err)
		}
	}

	fmt.Printf("  Seeded contest %s with %d entries\n", contestID, len(entries))
	return nil
}

func getTableName(query string) string {
	if len(query) > 50 {
		return query[:50] + "..."
	}
	return query
}
