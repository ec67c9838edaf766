package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"signalsync/internal/config"
	"signalsync/internal/database"
	"signalsync/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// StatusesConfig is the operator-maintained list of signalement statuses.
type StatusesConfig struct {
	Statuses []struct {
		Code        string  `yaml:"code"`
		Libelle     string  `yaml:"libelle"`
		Description *string `yaml:"description"`
		Couleur     *string `yaml:"couleur"`
		Ordre       int     `yaml:"ordre"`
	} `yaml:"statuses"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		statusesPath = flag.String("statuses", "configs/statuses.yaml", "path to statuses.yaml")
		driver       = flag.String("driver", "sqlite3", "database driver: sqlite3 or postgres")
		dbPath       = flag.String("db", "./data/signalsync.db", "path to sqlite db")
		dsn          = flag.String("dsn", "", "postgres dsn")
		enqueue      = flag.Bool("enqueue", true, "queue a push for every created or changed status")
		configPath   = flag.String("config", "", "service config; when set its database and retry settings win")
		maxRetries   = flag.Int("max-retries", 0, "retry budget of queued pushes (0 uses the default)")
	)
	flag.Parse()

	dbCfg := config.DatabaseConfig{Driver: *driver, Path: *dbPath, DSN: *dsn}
	if *configPath != "" {
		svc, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		dbCfg = svc.Database
		*maxRetries = svc.Sync.Retry.MaxRetries
	}

	data, err := os.ReadFile(*statusesPath)
	if err != nil {
		return fmt.Errorf("read statuses: %w", err)
	}
	var cfg StatusesConfig
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse statuses: %w", err)
	}
	if len(cfg.Statuses) == 0 {
		return fmt.Errorf("no statuses in yaml")
	}

	db, err := database.Open(dbCfg, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	db.SetMaxRetries(*maxRetries)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	created, updated, queued := 0, 0, 0
	for _, in := range cfg.Statuses {
		code := strings.ToUpper(strings.TrimSpace(in.Code))
		if code == "" {
			continue
		}
		st := &models.SignalementStatus{Code: code, Libelle: in.Libelle, Description: in.Description, Couleur: in.Couleur, Ordre: in.Ordre}

		existing, err := db.GetStatusByCode(ctx, code)
		switch {
		case err == nil:
			st.ID = existing.ID
			if err = db.UpdateStatus(ctx, st, time.Now()); err != nil {
				return fmt.Errorf("update %s: %w", code, err)
			}
			updated++
		case errors.Is(err, database.ErrNotFound):
			if err = db.InsertStatus(ctx, st); err != nil {
				return fmt.Errorf("create %s: %w", code, err)
			}
			created++
		default:
			return fmt.Errorf("get %s: %w", code, err)
		}

		if !*enqueue {
			continue
		}
		actor := "import"
		if _, _, err = db.Enqueue(ctx, models.SyncQueueItem{
			EntityType: models.EntitySignalementStatus,
			EntityID:   st.ID,
			SyncedBy:   &actor,
		}); err != nil {
			return fmt.Errorf("enqueue %s: %w", code, err)
		}
		queued++
	}

	fmt.Printf("done: created=%d updated=%d queued=%d\n", created, updated, queued)
	return nil
}
