package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/zispr/zispr-server/cmd/api"
	"github.com/zispr/zispr-server/cmd/utils"
	"github.com/zispr/zispr-server/db"
	"github.com/zispr/zispr-server/service/assist"
	"github.com/zispr/zispr-server/service/sharecard"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "indexes":
			runIndexes()
			return
		case "serve":
		default:
			log.Fatalf("Unknown command: %s", os.Args[1])
		}
	}

	startServer()
}

func runIndexes() {
	_, client, err := db.NewMongoStorage()
	if err != nil {
		log.Fatalf("Database initialization error: %v", err)
	}
	defer client.Disconnect(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.EnsureIndexes(ctx, client, getenv("MONGO_DB", "zispr")); err != nil {
		log.Fatalf("Index creation error: %v", err)
	}
	log.Println("Indexes ensured")
}

func startServer() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using process environment")
	}
	utils.InitLogger(getenv("LOG_LEVEL", "info"))

	var store db.Store
	var idem db.IdemStore

	if os.Getenv("DEV_MODE") == "true" {
		// Everything in-process; survives only as long as the server does.
		store = db.NewMemStore()
		idem = db.NewMemIdem()
		utils.Logger.Warnw("running with in-memory storage")
	} else {
		mongoStore, client, err := db.NewMongoStorage()
		if err != nil {
			utils.Logger.Fatalw("database initialization", "error", err)
		}
		defer client.Disconnect(context.Background())
		store = mongoStore

		if addr := os.Getenv("REDIS_ADDR"); addr != "" {
			idem = db.NewRedisIdem(addr)
		} else {
			idem = db.NewMemIdem()
			utils.Logger.Warnw("REDIS_ADDR not set, using in-process idempotency store")
		}
	}

	var composer *assist.Composer
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c, err := assist.NewComposer(context.Background(), key)
		if err != nil {
			utils.Logger.Warnw("assist composer disabled", "error", err)
		} else {
			composer = c
		}
	}

	var renderer *sharecard.Renderer
	if fontPath := os.Getenv("FONT_PATH"); fontPath != "" {
		r, err := sharecard.NewRenderer(fontPath)
		if err != nil {
			utils.Logger.Warnw("share card renderer disabled", "error", err)
		} else {
			renderer = r
		}
	}

	batchLimit := db.DefaultBatchLimit
	if v := os.Getenv("BATCH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			batchLimit = n
		}
	}

	address := ":" + getenv("SERVER_PORT", "8080")
	server := api.NewAPIServer(address, store, idem, composer, renderer, batchLimit)
	if err := server.Run(); err != nil {
		utils.Logger.Fatalw("server stopped", "error", err)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
