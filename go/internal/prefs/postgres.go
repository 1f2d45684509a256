package prefs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/brainbuffer/go/internal/feedback"
)

// DBConfig holds Postgres connection settings.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DBConfigFromEnv reads DB_* environment variables (with defaults).
func DBConfigFromEnv() DBConfig {
	port, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		port = 5432
	}

	return DBConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     port,
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "brainbuffer"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

// DSN returns the Postgres connection URL.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

const schema = `
CREATE TABLE IF NOT EXISTS player_prefs (
    player_id     TEXT PRIMARY KEY,
    high_score    INTEGER NOT NULL DEFAULT 0,
    tutorial_seen BOOLEAN NOT NULL DEFAULT FALSE,
    music         BOOLEAN NOT NULL DEFAULT TRUE,
    sfx           BOOLEAN NOT NULL DEFAULT TRUE,
    vibration     BOOLEAN NOT NULL DEFAULT TRUE,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresStore keeps the preferences of one player in the player_prefs
// table. Hosted bot fleets share a database this way.
type PostgresStore struct {
	pool     *pgxpool.Pool
	playerID string
}

// NewPostgresStore connects and makes sure the table exists.
func NewPostgresStore(ctx context.Context, cfg DBConfig, playerID string) (*PostgresStore, error) {
	if playerID == "" {
		return nil, errors.New("player id is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create player_prefs table: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Str("player_id", playerID).
		Msg("connected to prefs database")
	return &PostgresStore{pool: pool, playerID: playerID}, nil
}

func (s *PostgresStore) Load(ctx context.Context) (Data, error) {
	var (
		data Data
		set  feedback.Settings
	)
	err := s.pool.QueryRow(ctx, `
        SELECT high_score, tutorial_seen, music, sfx, vibration
        FROM player_prefs
        WHERE player_id = $1
    `, s.playerID).Scan(&data.HighScore, &data.TutorialSeen, &set.Music, &set.SFX, &set.Vibration)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultData(), nil
	}
	if err != nil {
		return DefaultData(), fmt.Errorf("failed to load prefs for %s: %w", s.playerID, err)
	}
	data.Settings = set
	return data, nil
}

func (s *PostgresStore) Save(ctx context.Context, data Data) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO player_prefs (player_id, high_score, tutorial_seen, music, sfx, vibration, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW())
        ON CONFLICT (player_id) DO UPDATE SET
            high_score    = EXCLUDED.high_score,
            tutorial_seen = EXCLUDED.tutorial_seen,
            music         = EXCLUDED.music,
            sfx           = EXCLUDED.sfx,
            vibration     = EXCLUDED.vibration,
            updated_at    = NOW()
    `, s.playerID, data.HighScore, data.TutorialSeen,
		data.Settings.Music, data.Settings.SFX, data.Settings.Vibration)
	if err != nil {
		return fmt.Errorf("failed to save prefs for %s: %w", s.playerID, err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
