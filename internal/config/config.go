package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`

	TranscriptPath    string        `env:"TRANSCRIPT_PATH" envDefault:"./logs/transcript.log"`
	ResetTranscript   bool          `env:"RESET_TRANSCRIPT" envDefault:"true"`
	WatchPollInterval time.Duration `env:"WATCH_POLL_INTERVAL" envDefault:"500ms"`

	ArchiveDir string   `env:"ARCHIVE_DIR" envDefault:"./analysis"`
	S3         S3Config `envPrefix:"S3_"`

	OpenAIAPIKey        string        `env:"OPENAI_API_KEY,required"`
	OpenAIBaseURL       string        `env:"OPENAI_BASE_URL"`
	ChatModel           string        `env:"CHAT_MODEL" envDefault:"gpt-4o-mini"`
	ClassifierModel     string        `env:"CLASSIFIER_MODEL"` // empty = ChatModel
	EmbeddingModel      string        `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingDimensions int           `env:"EMBEDDING_DIMENSIONS" envDefault:"1536"`
	TTSModel            string        `env:"TTS_MODEL" envDefault:"tts-1"`
	TTSVoice            string        `env:"TTS_VOICE" envDefault:"alloy"`
	GenerationTimeout   time.Duration `env:"GENERATION_TIMEOUT" envDefault:"60s"`
	PromptsFile         string        `env:"PROMPTS_FILE"`

	SpeakResponses  bool   `env:"SPEAK_RESPONSES" envDefault:"true"`
	PlayerCmd       string `env:"PLAYER_CMD" envDefault:"mpg123 -q -"`
	SpeechQueueSize int    `env:"SPEECH_QUEUE_SIZE" envDefault:"8"`

	VectorTable         string  `env:"VECTOR_TABLE" envDefault:"passages"`
	RetrievalTopK       int     `env:"RETRIEVAL_TOP_K" envDefault:"5"`
	SimilarityThreshold float64 `env:"SIMILARITY_THRESHOLD" envDefault:"0.5"`
	MinRelevantChunks   int     `env:"MIN_RELEVANT_CHUNKS" envDefault:"1"`
	MaxContextLength    int     `env:"MAX_CONTEXT_LENGTH" envDefault:"3000"`

	// Echo suppression thresholds. The phrase heuristic trades missed
	// paraphrases against blocked repeats; tune here rather than in code.
	FeedbackDelay            time.Duration `env:"FEEDBACK_DELAY" envDefault:"1s"`
	ResponseTTL              time.Duration `env:"RESPONSE_TTL" envDefault:"30s"`
	FeedbackMinResponseChars int           `env:"FEEDBACK_MIN_RESPONSE_CHARS" envDefault:"10"`
	FeedbackMaxPhraseWords   int           `env:"FEEDBACK_MAX_PHRASE_WORDS" envDefault:"3"`
	FeedbackMinPhraseChars   int           `env:"FEEDBACK_MIN_PHRASE_CHARS" envDefault:"10"`

	MQTTBrokerURL       string `env:"MQTT_BROKER_URL"`
	MQTTTranscriptTopic string `env:"MQTT_TRANSCRIPT_TOPIC" envDefault:"copilot/transcript"`
	MQTTAnalysisTopic   string `env:"MQTT_ANALYSIS_TOPIC" envDefault:"copilot/analysis"`
	MQTTClientID        string `env:"MQTT_CLIENT_ID" envDefault:"meeting-copilot"`
	MQTTUsername        string `env:"MQTT_USERNAME"`
	MQTTPassword        string `env:"MQTT_PASSWORD"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"90s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken     string        `env:"AUTH_TOKEN"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"10s"`
}

// S3Config enables S3 storage for the analysis archive when Bucket is set.
type S3Config struct {
	Bucket        string `env:"BUCKET"`
	Endpoint      string `env:"ENDPOINT"`
	Region        string `env:"REGION" envDefault:"us-east-1"`
	AccessKey     string `env:"ACCESS_KEY"`
	SecretKey     string `env:"SECRET_KEY"`
	Prefix        string `env:"PREFIX"`
	LocalCache    bool   `env:"LOCAL_CACHE" envDefault:"true"`
	UploadWorkers int    `env:"UPLOAD_WORKERS" envDefault:"2"`
	UploadBuffer  int    `env:"UPLOAD_BUFFER" envDefault:"64"`
}

func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile        string
	HTTPAddr       string
	LogLevel       string
	DatabaseURL    string
	MQTTBrokerURL  string
	TranscriptPath string
	ArchiveDir     string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.MQTTBrokerURL != "" {
		cfg.MQTTBrokerURL = overrides.MQTTBrokerURL
	}
	if overrides.TranscriptPath != "" {
		cfg.TranscriptPath = overrides.TranscriptPath
	}
	if overrides.ArchiveDir != "" {
		cfg.ArchiveDir = overrides.ArchiveDir
	}

	if cfg.ClassifierModel == "" {
		cfg.ClassifierModel = cfg.ChatModel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.TranscriptPath != "", "TRANSCRIPT_PATH is empty")
	check(c.WatchPollInterval > 0, "WATCH_POLL_INTERVAL must be positive, got %s", c.WatchPollInterval)
	check(c.VectorTable != "", "VECTOR_TABLE is empty")
	check(c.EmbeddingDimensions > 0, "EMBEDDING_DIMENSIONS must be positive, got %d", c.EmbeddingDimensions)
	check(c.RetrievalTopK >= 1, "RETRIEVAL_TOP_K must be at least 1, got %d", c.RetrievalTopK)
	check(c.SimilarityThreshold >= 0 && c.SimilarityThreshold <= 1,
		"SIMILARITY_THRESHOLD must be within [0,1], got %g", c.SimilarityThreshold)
	check(c.MinRelevantChunks >= 1 && c.MinRelevantChunks <= c.RetrievalTopK,
		"MIN_RELEVANT_CHUNKS must be within [1,RETRIEVAL_TOP_K], got %d", c.MinRelevantChunks)
	check(c.MaxContextLength > 0, "MAX_CONTEXT_LENGTH must be positive, got %d", c.MaxContextLength)
	check(c.FeedbackDelay >= 0, "FEEDBACK_DELAY must not be negative, got %s", c.FeedbackDelay)
	check(c.ResponseTTL > 0, "RESPONSE_TTL must be positive, got %s", c.ResponseTTL)
	check(c.GenerationTimeout > 0, "GENERATION_TIMEOUT must be positive, got %s", c.GenerationTimeout)
	check(c.ShutdownGrace > 0, "SHUTDOWN_GRACE must be positive, got %s", c.ShutdownGrace)
	check(c.SpeechQueueSize > 0, "SPEECH_QUEUE_SIZE must be positive, got %d", c.SpeechQueueSize)
	check(!c.SpeakResponses || c.PlayerCmd != "", "PLAYER_CMD is required when SPEAK_RESPONSES is set")

	return errors.Join(errs...)
}
