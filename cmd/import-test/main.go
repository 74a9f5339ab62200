package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

func main() {
	file := flag.String("file", "", "path to a question set JSON file")
	flag.Parse()

	if *file == "" {
		fmt.Println("Usage: import-test -file questions.json")
		os.Exit(2)
	}

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	validator.Setup()

	raw, err := os.ReadFile(*file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("Failed to read question set")
	}

	var upload model.QuestionSetUpload
	if err := json.Unmarshal(raw, &upload); err != nil {
		log.Fatal().Err(err).Msg("Question set is not valid JSON")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// ─── Connect to PostgreSQL & Redis ─────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	testService := service.NewTestService(repository.NewTestRepository(pool), rdb, log)

	// ─── Import ────────────────────────────────────────────────────────
	test, err := testService.Import(ctx, &upload)
	if err != nil {
		if validator.IsValidationError(err) || errors.Is(err, service.ErrInvalidAnswerKey) {
			fmt.Printf("Question set rejected: %v\n", err)
			os.Exit(1)
		}
		log.Fatal().Err(err).Msg("Failed to import test")
	}

	fmt.Printf("\nSuccess! Test '%s' imported with ID: %s (%d questions, %d minutes)\n",
		test.Title, test.ID, len(test.Questions), test.TimeLimitSeconds/60)
}
