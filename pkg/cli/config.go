package cli

import (
	"context"
	"io"

	"github.com/m-mizutani/bizartvisor/pkg/adapter"
	"github.com/m-mizutani/bizartvisor/pkg/crawler"
	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/bizartvisor/pkg/policy"
	"github.com/m-mizutani/bizartvisor/pkg/repository"
	"github.com/m-mizutani/bizartvisor/pkg/service/mcp"
	"github.com/m-mizutani/bizartvisor/pkg/tool"
	"github.com/m-mizutani/bizartvisor/pkg/tool/knowledge"
	"github.com/m-mizutani/bizartvisor/pkg/tool/news"
	"github.com/m-mizutani/bizartvisor/pkg/usecase/chat"
	knowledgeUC "github.com/m-mizutani/bizartvisor/pkg/usecase/knowledge"
	"github.com/m-mizutani/bizartvisor/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const (
	backendMemory    = "memory"
	backendQdrant    = "qdrant"
	backendFirestore = "firestore"
	backendSQLite    = "sqlite"
)

// config holds configuration values
type config struct {
	// Gemini
	geminiProject  string
	geminiLocation string
	geminiAPIKey   string
	embeddingModel string
	dimension      int64
	modelsFile     string

	// Vector index
	vectorBackend string
	qdrantURL     string
	qdrantAPIKey  string
	collection    string

	// Conversation history
	historyBackend string
	sqlitePath     string

	// Firestore, shared by both backends
	project  string
	database string

	// Uploads
	bucket       string
	bucketPrefix string
	policyDir    string
	embedWorkers int64

	// Tools
	mcpConfig string
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini (Vertex AI)",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key, used instead of Vertex AI when set",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Embedding model name",
			Value:       "gemini-embedding-001",
			Sources:     cli.EnvVars("BIZARTVISOR_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.IntFlag{
			Name:        "embedding-dimension",
			Usage:       "Dimensionality of embeddings and of the collection",
			Value:       model.DefaultDimension,
			Sources:     cli.EnvVars("BIZARTVISOR_EMBEDDING_DIMENSION"),
			Destination: &cfg.dimension,
		},
		&cli.StringFlag{
			Name:        "models",
			Usage:       "YAML file listing selectable chat models",
			Sources:     cli.EnvVars("BIZARTVISOR_MODELS"),
			Destination: &cfg.modelsFile,
		},
	}
}

// indexFlags returns flags selecting the vector index
func indexFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "vector-backend",
			Usage:       "Vector index backend (memory, qdrant, firestore)",
			Value:       backendQdrant,
			Sources:     cli.EnvVars("BIZARTVISOR_VECTOR_BACKEND"),
			Destination: &cfg.vectorBackend,
		},
		&cli.StringFlag{
			Name:        "qdrant-url",
			Usage:       "Qdrant REST endpoint",
			Value:       "http://localhost:6333",
			Sources:     cli.EnvVars("QDRANT_URL"),
			Destination: &cfg.qdrantURL,
		},
		&cli.StringFlag{
			Name:        "qdrant-api-key",
			Usage:       "Qdrant API key",
			Sources:     cli.EnvVars("QDRANT_API_KEY"),
			Destination: &cfg.qdrantAPIKey,
		},
		&cli.StringFlag{
			Name:        "collection",
			Usage:       "Knowledge collection name",
			Value:       "stored_documents",
			Sources:     cli.EnvVars("BIZARTVISOR_COLLECTION"),
			Destination: &cfg.collection,
		},
		&cli.IntFlag{
			Name:        "embed-workers",
			Usage:       "Maximum concurrent embedding requests during ingestion",
			Value:       4,
			Sources:     cli.EnvVars("BIZARTVISOR_EMBED_WORKERS"),
			Destination: &cfg.embedWorkers,
		},
	}
}

// historyFlags returns flags selecting the conversation store
func historyFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "history-backend",
			Usage:       "Conversation history backend (memory, sqlite, firestore)",
			Value:       backendSQLite,
			Sources:     cli.EnvVars("BIZARTVISOR_HISTORY_BACKEND"),
			Destination: &cfg.historyBackend,
		},
		&cli.StringFlag{
			Name:        "sqlite-path",
			Usage:       "SQLite database file for conversation history",
			Value:       "bizartvisor.db",
			Sources:     cli.EnvVars("BIZARTVISOR_SQLITE_PATH"),
			Destination: &cfg.sqlitePath,
		},
	}
}

// firestoreFlags returns flags for Firestore used by firestore backends
func firestoreFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID for Firestore",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
	}
}

// uploadFlags returns flags for upload policy and raw file archiving
func uploadFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket archiving uploaded files",
			Sources:     cli.EnvVars("BIZARTVISOR_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "bucket-prefix",
			Usage:       "Object name prefix in the archive bucket",
			Sources:     cli.EnvVars("BIZARTVISOR_BUCKET_PREFIX"),
			Destination: &cfg.bucketPrefix,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego upload policies (package upload)",
			Sources:     cli.EnvVars("BIZARTVISOR_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

func mcpFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "mcp-config",
			Usage:       "YAML file of MCP servers whose tools are offered in agent mode",
			Sources:     cli.EnvVars("BIZARTVISOR_MCP_CONFIG"),
			Destination: &cfg.mcpConfig,
		},
	}
}

// resources owns clients created from config; Close releases all of them
type resources struct {
	closers []io.Closer
}

func (r *resources) add(c io.Closer) {
	r.closers = append(r.closers, c)
}

func (r *resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			logging.Default().Warn("failed to close resource", "error", err)
		}
	}
}

func (cfg *config) newGemini(ctx context.Context) (*adapter.GeminiClient, error) {
	opts := []adapter.GeminiOption{
		adapter.WithEmbeddingModel(cfg.embeddingModel),
		adapter.WithEmbeddingDimension(int(cfg.dimension)),
	}
	if cfg.geminiAPIKey != "" {
		opts = append(opts, adapter.WithAPIKey(cfg.geminiAPIKey))
	} else {
		if cfg.geminiProject == "" {
			return nil, goerr.Wrap(model.ErrConfiguration, "gemini-project or gemini-api-key is required")
		}
		if cfg.geminiLocation == "" {
			return nil, goerr.Wrap(model.ErrConfiguration, "gemini-location is required")
		}
	}
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
}

func (cfg *config) newModels(gemini *adapter.GeminiClient) (*adapter.Models, error) {
	entries, defaultName := adapter.DefaultModelEntries(), ""
	if cfg.modelsFile != "" {
		var err error
		entries, defaultName, err = adapter.LoadModelEntries(cfg.modelsFile)
		if err != nil {
			return nil, err
		}
	}
	return gemini.BuildModels(entries, defaultName)
}

func (cfg *config) firestore(ctx context.Context, res *resources) (*repository.Firestore, error) {
	if cfg.project == "" {
		return nil, goerr.Wrap(model.ErrConfiguration, "project is required for firestore backend")
	}
	if cfg.database == "" {
		return nil, goerr.Wrap(model.ErrConfiguration, "database is required for firestore backend")
	}
	repo, err := repository.New(ctx, cfg.project, cfg.database)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create repository")
	}
	res.add(repo)
	return repo, nil
}

func (cfg *config) newIndex(ctx context.Context, res *resources) (repository.VectorIndex, error) {
	switch cfg.vectorBackend {
	case backendMemory:
		return repository.NewMemory(), nil
	case backendQdrant:
		var opts []repository.QdrantOption
		if cfg.qdrantAPIKey != "" {
			opts = append(opts, repository.WithQdrantAPIKey(cfg.qdrantAPIKey))
		}
		return repository.NewQdrant(cfg.qdrantURL, opts...), nil
	case backendFirestore:
		return cfg.firestore(ctx, res)
	default:
		return nil, goerr.Wrap(model.ErrConfiguration, "unknown vector backend", goerr.V("backend", cfg.vectorBackend))
	}
}

func (cfg *config) newHistory(ctx context.Context, res *resources) (repository.HistoryStore, error) {
	switch cfg.historyBackend {
	case backendMemory:
		return repository.NewMemoryHistory(), nil
	case backendSQLite:
		store, err := repository.NewSQLiteHistory(ctx, cfg.sqlitePath)
		if err != nil {
			return nil, err
		}
		res.add(store)
		return store, nil
	case backendFirestore:
		return cfg.firestore(ctx, res)
	default:
		return nil, goerr.Wrap(model.ErrConfiguration, "unknown history backend", goerr.V("backend", cfg.historyBackend))
	}
}

// newKnowledge builds the knowledge use case and makes sure its collection exists
func (cfg *config) newKnowledge(ctx context.Context, res *resources, embedder adapter.Embedder) (*knowledgeUC.UseCase, error) {
	index, err := cfg.newIndex(ctx, res)
	if err != nil {
		return nil, err
	}

	uploadPolicy, err := policy.NewUpload(ctx, cfg.policyDir)
	if err != nil {
		return nil, err
	}

	opts := []knowledgeUC.Option{
		knowledgeUC.WithUploadPolicy(uploadPolicy),
		knowledgeUC.WithEmbedConcurrency(int(cfg.embedWorkers)),
	}
	if cfg.bucket != "" {
		storage, err := adapter.NewStorage(ctx, cfg.bucket, cfg.bucketPrefix)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create storage")
		}
		opts = append(opts, knowledgeUC.WithStorage(storage))
	}

	uc := knowledgeUC.New(index, embedder, model.Collection{
		Name:      cfg.collection,
		Dimension: int(cfg.dimension),
		Metric:    model.MetricCosine,
	}, opts...)
	if err := uc.EnsureCollection(ctx); err != nil {
		return nil, err
	}
	return uc, nil
}

// newTools returns the tool set; flags of every tool are registered before
// arguments are parsed
func newTools() []tool.Tool {
	return []tool.Tool{
		knowledge.New(),
		news.New(),
	}
}

// chatDeps holds everything built for the chat service
type chatDeps struct {
	gemini    *adapter.GeminiClient
	models    *adapter.Models
	knowledge *knowledgeUC.UseCase
	crawler   *crawler.Crawler
	service   *chat.Service
}

func (cfg *config) newChatDeps(ctx context.Context, res *resources, tools []tool.Tool) (*chatDeps, error) {
	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		return nil, err
	}
	models, err := cfg.newModels(gemini)
	if err != nil {
		return nil, err
	}
	history, err := cfg.newHistory(ctx, res)
	if err != nil {
		return nil, err
	}
	uc, err := cfg.newKnowledge(ctx, res, gemini)
	if err != nil {
		return nil, err
	}

	provider, err := mcp.LoadAndConnect(ctx, cfg.mcpConfig)
	if err != nil {
		return nil, err
	}
	if provider != nil {
		res.add(provider)
		tools = append(tools, provider)
	}

	defaultLLM, err := models.Get(models.Default())
	if err != nil {
		return nil, err
	}
	c := crawler.New()
	registry := tool.New(tools...)
	if err := registry.Init(ctx, &tool.Client{
		LLM:       defaultLLM,
		Embedder:  gemini,
		Retriever: uc,
		Crawler:   c,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to initialize tools")
	}
	logging.From(ctx).Debug("tools enabled", "tools", registry.EnabledTools())

	return &chatDeps{
		gemini:    gemini,
		models:    models,
		knowledge: uc,
		crawler:   c,
		service: chat.New(models, history,
			chat.WithRetriever(uc),
			chat.WithRegistry(registry),
		),
	}, nil
}
