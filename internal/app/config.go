package app

import (
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/utils"
)

// Config carries the startup knobs the wiring layer needs. Provider-specific
// settings (OpenAI models, Pinecone index, DocAI processor, clamd address)
// stay with their constructors; only what New() itself branches on lives
// here. The vector provider fields hold raw env values until app.New
// resolves them against the object storage mode.
type Config struct {
	Environment string
	Port        string

	ObjectStorageMode   string
	StorageEmulatorHost string

	VectorProvider           string
	VectorProviderModeSource string
	QdrantURL                string
	QdrantCollection         string
	QdrantNamespacePrefix    string
	QdrantVectorDim          int

	MetricsAddr string
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		Environment: utils.GetEnv("ENVIRONMENT", "development", log),
		Port:        utils.GetEnv("PORT", "8080", log),

		ObjectStorageMode:   utils.GetEnv("OBJECT_STORAGE_MODE", "", log),
		StorageEmulatorHost: utils.GetEnv("STORAGE_EMULATOR_HOST", "", log),

		VectorProvider:        utils.GetEnv("VECTOR_PROVIDER", "", log),
		QdrantURL:             utils.GetEnv("QDRANT_URL", "", log),
		QdrantCollection:      utils.GetEnv("QDRANT_COLLECTION", "", log),
		QdrantNamespacePrefix: utils.GetEnv("QDRANT_NAMESPACE_PREFIX", "arb", log),
		QdrantVectorDim:       utils.GetEnvAsInt("QDRANT_VECTOR_DIM", 0, log),

		MetricsAddr: utils.GetEnv("METRICS_ADDR", ":9090", log),
	}
}
