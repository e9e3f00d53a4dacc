// Command metascan-server runs the photo metadata analysis API: upload
// a photo, read its EXIF/IPTC/XMP metadata, reverse-geocode the GPS
// position, ask the AI assistant about it, and export the result.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/smehta/metascan/internal/ai"
	"github.com/smehta/metascan/internal/auth"
	"github.com/smehta/metascan/internal/config"
	"github.com/smehta/metascan/internal/geocode"
	"github.com/smehta/metascan/internal/history"
	"github.com/smehta/metascan/internal/logging"
)

// CLI flags
var (
	addrFlag   string
	modelFlag  string
	configFlag string
)

var rootCmd = &cobra.Command{
	Use:   "metascan-server",
	Short: "Photo metadata analysis API server",
	Long: `Metascan Server exposes an HTTP API for analyzing photos: EXIF, IPTC
and XMP metadata extraction, reverse geocoding, AI-assisted description
and Q&A, per-user history, and PDF/JSON export.

Examples:
  metascan-server
  metascan-server --addr :9090
  metascan-server --model gemini-2.5-pro --config ./metascan.yaml`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (overrides config)")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini model to use (overrides config)")
	rootCmd.Flags().StringVarP(&configFlag, "config", "c", "", "Path to config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	logging.Init()

	ctx := context.Background()
	cfg, err := config.Load(ctx, configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if addrFlag != "" {
		cfg.Addr = addrFlag
	}
	if modelFlag != "" {
		cfg.GeminiModel = modelFlag
	}

	if cfg.GeminiAPIKey == "" {
		log.Fatal().Msg("Gemini API key is not configured")
	}
	model := ai.ResolveModelName(cfg.GeminiModel)
	assistant, err := ai.NewClient(ctx, cfg.GeminiAPIKey, model)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	log.Info().Str("model", model).Msg("Gemini client ready")

	geocoder := geocode.NewClient(cfg.OpenCageAPIKey)

	var store history.Store
	if cfg.HistoryTable != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load AWS configuration")
		}
		store = history.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.HistoryTable)
		log.Info().Str("table", cfg.HistoryTable).Msg("History backed by DynamoDB")
	} else {
		store = history.NewMemoryStore()
		log.Warn().Msg("No history table configured, history is in-memory only")
	}

	authMgr := auth.NewManager(auth.NewFirebaseProvider(cfg.FirebaseAPIKey))
	srv := newServer(authMgr, geocoder, assistant, store)

	router := mux.NewRouter()
	srv.registerRoutes(router)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	handler := withLogging(cors(gzhttp.GzipHandler(router)))

	httpSrv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.Addr).Msg("Starting server")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("API request")
	})
}
