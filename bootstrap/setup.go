// Package bootstrap wires the planning pipeline from configuration:
// database, catalog, vector index, travel-time oracle, LLM-backed
// extractor/parser/generator, retriever, planner, feedback engine, and the
// orchestrator with its HTTP adapter.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/sirupsen/logrus"
	gmaps "googlemaps.github.io/maps"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tripcraft/planner/api"
	"github.com/tripcraft/planner/catalog"
	"github.com/tripcraft/planner/config"
	"github.com/tripcraft/planner/extractor"
	"github.com/tripcraft/planner/feedback"
	"github.com/tripcraft/planner/log"
	"github.com/tripcraft/planner/model"
	"github.com/tripcraft/planner/orchestrator"
	"github.com/tripcraft/planner/orm"
	"github.com/tripcraft/planner/planner"
	"github.com/tripcraft/planner/retrieval"
	"github.com/tripcraft/planner/traveltime"
	"github.com/tripcraft/planner/vectorindex"
)

// App holds the initialized components of the application
type App struct {
	Orchestrator *orchestrator.Orchestrator
	Server       *api.Server
	Genkit       *genkit.Genkit
	Model        ai.Model
	DB           *gorm.DB
	Oracle       traveltime.Oracle
}

// Setup initializes the application components based on the configuration
func Setup(ctx context.Context, cfg *config.Config) (*App, error) {
	log.Init()
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(level)
	}

	// 1. Database
	db, err := openDB(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := orm.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	// 2. Genkit with AI Plugin
	gk, aiModel, err := setupGenkit(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// 3. External collaborators
	var mapsClient *gmaps.Client
	if cfg.Maps.APIKey != "" {
		mapsClient, err = gmaps.NewClient(gmaps.WithAPIKey(cfg.Maps.APIKey))
		if err != nil {
			return nil, fmt.Errorf("maps client: %w", err)
		}
	} else {
		log.Warnf(ctx, "MAPS_API_KEY not set; travel times fall back to great-circle estimates")
	}
	oracle := traveltime.NewOracle(mapsClient, db, travelTimeConfig(cfg.TravelTime))

	cat := catalog.NewRepository(db)

	embedder := vectorindex.NewEmbeddingService(vectorindex.EmbeddingConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
	})
	index, err := openIndex(cfg, db)
	if err != nil {
		return nil, err
	}

	// 4. Pipeline components
	retriever := retrieval.New(cat, index, embedder, retrievalConfig(cfg.Retrieval))
	pl := planner.New(plannerConfig(cfg), slotRetriever{retriever})
	ext := extractor.New(gk, aiModel, extractorConfig(cfg))
	parser := feedback.NewParser(gk, aiModel, feedback.DefaultParserConfig())
	engine := feedback.NewEngine(cat, oracle, parser, feedback.Config{
		TwoOptIterationCap: cfg.Planner.TwoOptIterationCap,
		TravelProfile:      traveltime.Profile(cfg.TravelTime.Profile),
		SubstituteLimit:    16,
	})
	gen := orchestrator.NewGenerator(gk, aiModel)

	orch := orchestrator.New(ext, retriever, pl, engine, gen, cat, oracle, db, orchestrator.Config{
		TurnDeadline:       cfg.Orchestrator.TurnDeadline(),
		MaxDayCount:        cfg.Orchestrator.MaxDayCount,
		MaxFeedbackHistory: cfg.Orchestrator.MaxFeedbackHistory,
	})

	return &App{
		Orchestrator: orch,
		Server:       api.NewServer(orch),
		Genkit:       gk,
		Model:        aiModel,
		DB:           db,
		Oracle:       oracle,
	}, nil
}

func setupGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, ai.Model, error) {
	if cfg.AI.Plugin == "ollama" {
		log.Infof(ctx, "Using Ollama Plugin (Model: %s)...", cfg.AI.Ollama.Model)
		ollamaPlugin := &ollama.Ollama{
			ServerAddress: cfg.AI.Ollama.BaseURL,
		}
		gk := genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))

		aiModel := ollamaPlugin.DefineModel(gk, ollama.ModelDefinition{
			Name: cfg.AI.Ollama.Model,
			Type: "chat",
		}, &ai.ModelOptions{
			Supports: &ai.ModelSupports{
				Multiturn:  true,
				SystemRole: true,
				Tools:      true,
				Media:      false,
			},
		})
		return gk, aiModel, nil
	}

	log.Infof(ctx, "Using Gemini Plugin...")
	if cfg.AI.Gemini.APIKey == "" {
		return nil, nil, fmt.Errorf("GEMINI_API_KEY must be set (or set AI_PLUGIN=ollama)")
	}
	gk := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{
		APIKey: cfg.AI.Gemini.APIKey,
	}))
	return gk, googlegenai.GoogleAIModel(gk, cfg.AI.Gemini.Model), nil
}

func openDB(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	switch cfg.Driver {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DSN()), gormCfg)
	default:
		return gorm.Open(sqlite.Open(cfg.SQLitePath), gormCfg)
	}
}

// openIndex backs the vector index with pgvector on postgres and the
// in-memory index otherwise. The in-memory index starts empty and nothing
// here fills it from the catalog, so on sqlite the semantic branch finds no
// hits until embeddings are upserted.
func openIndex(cfg *config.Config, db *gorm.DB) (vectorindex.Index, error) {
	if cfg.DB.Driver == "postgres" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("unwrap sql db: %w", err)
		}
		return vectorindex.NewPostgresIndex(sqlDB, cfg.Embedding.Model), nil
	}
	return vectorindex.NewMemoryIndex(), nil
}

func travelTimeConfig(cfg config.TravelTimeConfig) traveltime.Config {
	out := traveltime.DefaultConfig()
	out.MemoryCacheSize = cfg.MemoryCacheSize
	out.PersistentTTL = cfg.CacheTTL()
	out.MaxRetries = cfg.MaxRetries
	out.BaseBackoff = time.Duration(cfg.BaseBackoffMS) * time.Millisecond
	out.RateLimitPerSec = cfg.RateLimitPerSec
	out.FallbackSpeedMPS = cfg.FallbackSpeedMPS
	out.FallbackInflation = cfg.FallbackInflation
	out.PeakMultiplier = cfg.PeakMultiplier
	return out
}

func retrievalConfig(cfg config.RetrievalConfig) retrieval.Config {
	out := retrieval.DefaultConfig()
	out.N1 = cfg.N1
	out.N2 = cfg.N2
	out.TopK = cfg.TopK
	out.BranchTimeout = cfg.BranchTimeout()
	for pace, w := range cfg.Weights {
		out.WeightsByPace[model.Pace(pace)] = retrieval.Weights{
			Alpha: w.Alpha, Beta: w.Beta, Gamma: w.Gamma, Delta: w.Delta,
			Epsilon: w.Epsilon, Zeta: w.Zeta, Eta: w.Eta,
		}
	}
	return out
}

func plannerConfig(cfg *config.Config) planner.Config {
	out := planner.DefaultConfig()
	out.PaceTargets = map[model.Pace]int{
		model.PaceRelaxed:   cfg.Planner.RelaxedTarget,
		model.PaceModerate:  cfg.Planner.ModerateTarget,
		model.PaceIntensive: cfg.Planner.IntensiveTarget,
	}
	out.GreedyLambda = cfg.Planner.GreedyLambda
	out.GreedyMu = cfg.Planner.GreedyMu
	out.MarginalUtilityFloor = cfg.Planner.MarginalUtilityFloor
	out.TwoOptIterationCap = cfg.Planner.TwoOptIterationCap
	out.MaxStayShortenPct = cfg.Planner.MaxStayShortenPct
	out.RepairLadderDepth = cfg.Planner.RepairLadderDepth
	out.RepairRadiusExpand = cfg.Planner.RepairRadiusExpand
	out.TravelProfile = traveltime.Profile(cfg.TravelTime.Profile)
	return out
}

// slotRetriever adapts the hybrid retriever to the planner's
// repair-ladder contract: the widened story drives a full re-retrieval and
// only the ranked candidates come back.
type slotRetriever struct {
	r retrieval.Retriever
}

func (s slotRetriever) RetrieveSlot(ctx context.Context, story *model.Story) ([]model.Candidate, error) {
	res, err := s.r.Retrieve(ctx, story)
	if err != nil {
		return nil, err
	}
	return res.Candidates, nil
}

func extractorConfig(cfg *config.Config) extractor.Config {
	out := extractor.DefaultConfig()
	out.MaxDayCount = cfg.Orchestrator.MaxDayCount
	out.Timeout = time.Duration(cfg.Orchestrator.ExtractTimeoutSec) * time.Second
	return out
}
