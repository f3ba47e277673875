package docqa

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flarexio/docqa/chunker"
	"github.com/flarexio/docqa/llm"
	"github.com/flarexio/docqa/loader"
	"github.com/flarexio/docqa/vector"
)

var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrEmptyQuestion        = errors.New("empty question")
)

const DefaultPersona = "You are an AI assistant that answers questions using the documents provided. " +
	"If a question is not addressed by these documents, answer from your own knowledge and say so. " +
	"Keep your responses concise and focused on the question."

type Config struct {
	Chunk      ChunkConfig      `yaml:"chunk"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Query      QueryConfig      `yaml:"query"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Vector     vector.Config    `yaml:"vector"`
	Corpus     loader.Config    `yaml:"corpus"`
}

type ChunkConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

type EmbeddingConfig struct {
	BaseURL           string   `yaml:"baseURL"`
	Model             string   `yaml:"model"`
	APIKeyEnv         string   `yaml:"apiKeyEnv"`
	Dimensions        int      `yaml:"dimensions"`
	Timeout           Duration `yaml:"timeout"`
	RequestsPerSecond float64  `yaml:"requestsPerSecond"`
	Burst             int      `yaml:"burst"`
}

type GenerationConfig struct {
	BaseURL     string   `yaml:"baseURL"`
	Model       string   `yaml:"model"`
	APIKeyEnv   string   `yaml:"apiKeyEnv"`
	MaxTokens   int      `yaml:"maxTokens"`
	Temperature float64  `yaml:"temperature"`
	Timeout     Duration `yaml:"timeout"`
}

type QueryConfig struct {
	TopK                     int    `yaml:"topK"`
	Persona                  string `yaml:"persona"`
	ContextRole              string `yaml:"contextRole"`
	FallbackOnRetrievalError bool   `yaml:"fallbackOnRetrievalError"`
}

type IngestConfig struct {
	BatchSize   int `yaml:"batchSize"`
	Concurrency int `yaml:"concurrency"`
}

// DefaultConfig returns the configuration used for every key the YAML
// file leaves out.
func DefaultConfig() Config {
	return Config{
		Chunk: ChunkConfig{
			Size:    1000,
			Overlap: 200,
		},
		Embedding: EmbeddingConfig{
			Model:     "text-embedding-3-small",
			APIKeyEnv: "OPENAI_API_KEY",
			Timeout:   Duration(30 * time.Second),
		},
		Generation: GenerationConfig{
			Model:       "gpt-3.5-turbo",
			APIKeyEnv:   "OPENAI_API_KEY",
			MaxTokens:   150,
			Temperature: 0.4,
			Timeout:     Duration(60 * time.Second),
		},
		Query: QueryConfig{
			TopK:        4,
			Persona:     DefaultPersona,
			ContextRole: llm.RoleAssistant,
		},
		Ingest: IngestConfig{
			BatchSize:   32,
			Concurrency: 4,
		},
		Vector: vector.Config{
			Backend:    "chromem",
			Collection: "documents",
			Table:      "documents",
		},
	}
}

func (cfg Config) Validate() error {
	if err := chunker.Validate(cfg.Chunk.Size, cfg.Chunk.Overlap); err != nil {
		return fmt.Errorf("%w: chunk: %w", ErrInvalidConfiguration, err)
	}

	if cfg.Query.TopK <= 0 {
		return fmt.Errorf("%w: query.topK must be positive, got %d",
			ErrInvalidConfiguration, cfg.Query.TopK)
	}

	switch cfg.Query.ContextRole {
	case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant:
	default:
		return fmt.Errorf("%w: unsupported query.contextRole %q",
			ErrInvalidConfiguration, cfg.Query.ContextRole)
	}

	if cfg.Generation.MaxTokens < 0 {
		return fmt.Errorf("%w: generation.maxTokens must not be negative",
			ErrInvalidConfiguration)
	}

	if cfg.Ingest.BatchSize <= 0 || cfg.Ingest.Concurrency <= 0 {
		return fmt.Errorf("%w: ingest.batchSize and ingest.concurrency must be positive",
			ErrInvalidConfiguration)
	}

	switch cfg.Vector.Backend {
	case "chromem":
	case "postgres":
		if cfg.Vector.DSN == "" {
			return fmt.Errorf("%w: vector.dsn is required for postgres",
				ErrInvalidConfiguration)
		}

	default:
		return fmt.Errorf("%w: %w: %q",
			ErrInvalidConfiguration, vector.ErrUnknownBackend, cfg.Vector.Backend)
	}

	return nil
}

type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	str := d.Duration().String()
	return json.Marshal(str)
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	duration, err := time.ParseDuration(str)
	if err != nil {
		return err
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration().String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err != nil {
		return err
	}

	duration, err := time.ParseDuration(str)
	if err != nil {
		return err
	}

	*d = Duration(duration)
	return nil
}

// Role is the role of a conversation turn. RoleContext carries the
// retrieved chunks and is mapped onto a chat role when sent to the model.
type Role string

const (
	RoleSystem  Role = "system"
	RoleUser    Role = "user"
	RoleContext Role = "context"
)

type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type State string

const (
	StateEmbeddingQuery  State = "EMBEDDING_QUERY"
	StateRetrieving      State = "RETRIEVING"
	StateComposingPrompt State = "COMPOSING_PROMPT"
	StateGenerating      State = "GENERATING"
	StateDone            State = "DONE"
	StateFailed          State = "FAILED"
)

// QueryError reports the state a query was in when it failed.
type QueryError struct {
	State State
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed while %s: %s", e.State, e.Err.Error())
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

type Answer struct {
	Question string          `json:"question"`
	Text     string          `json:"text"`
	Turns    []Turn          `json:"turns"`
	Results  []vector.Result `json:"results"`

	// Fallback is set when retrieval failed and the answer was generated
	// without context.
	Fallback bool `json:"fallback,omitempty"`
}

type IngestReport struct {
	Documents         int                      `json:"documents"`
	Chunks            int                      `json:"chunks"`
	Stored            int                      `json:"stored"`
	EmbeddingFailures int                      `json:"embedding_failures"`
	Errors            []*vector.IngestionError `json:"errors,omitempty"`
}
