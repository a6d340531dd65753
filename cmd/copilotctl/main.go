// Command copilotctl runs one-shot diagnostics against the same configuration
// as the meeting-copilot service.
//
//	copilotctl [ask] [-context text] <question>
//	copilotctl classify <text>
//	copilotctl retrieve <query>
//	copilotctl history [-limit n]
//	copilotctl index [-chunk n] <file>...
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/snarg/meeting-copilot/internal/archive"
	"github.com/snarg/meeting-copilot/internal/classify"
	"github.com/snarg/meeting-copilot/internal/config"
	"github.com/snarg/meeting-copilot/internal/database"
	"github.com/snarg/meeting-copilot/internal/feedback"
	"github.com/snarg/meeting-copilot/internal/llm"
	"github.com/snarg/meeting-copilot/internal/orchestrator"
	"github.com/snarg/meeting-copilot/internal/retrieval"
	"github.com/snarg/meeting-copilot/internal/storage"
	"github.com/snarg/meeting-copilot/internal/transcript"
)

type env struct {
	cfg *config.Config
	log zerolog.Logger
}

func main() {
	envFile := flag.String("env-file", "", "path to .env file (default .env)")
	verbose := flag.Bool("v", false, "log to stderr at debug level")
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load(config.Overrides{EnvFile: *envFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	log := zerolog.Nop()
	if *verbose {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.DebugLevel)
	}
	e := &env{cfg: cfg, log: log}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	cmd := "ask"
	if len(args) > 0 {
		switch args[0] {
		case "ask", "classify", "retrieve", "history", "index":
			cmd, args = args[0], args[1:]
		}
	}

	switch cmd {
	case "classify":
		err = e.classify(ctx, args)
	case "retrieve":
		err = e.retrieve(ctx, args)
	case "history":
		err = e.history(ctx, args)
	case "index":
		err = e.index(ctx, args)
	default:
		err = e.ask(ctx, args)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: copilotctl [-env-file f] [-v] <command> [args]

commands:
  ask [-context text] <question>   run one utterance through the full pipeline (default)
  classify <text>                  print technical or casual
  retrieve <query>                 print the retrieved context and sources
  history [-limit n]               list archived analyses, newest first
  index [-chunk n] <file>...       embed text files into the passage index
`)
}

func (e *env) client() (*llm.Client, error) {
	return llm.NewClient(llm.Options{
		APIKey:         e.cfg.OpenAIAPIKey,
		BaseURL:        e.cfg.OpenAIBaseURL,
		ChatModel:      e.cfg.ChatModel,
		EmbeddingModel: e.cfg.EmbeddingModel,
		SpeechModel:    e.cfg.TTSModel,
		Voice:          e.cfg.TTSVoice,
		Timeout:        e.cfg.GenerationTimeout,
		Log:            e.log,
	})
}

func (e *env) passages(ctx context.Context) (*database.DB, *database.PassageIndex, error) {
	db, err := database.Connect(ctx, e.cfg.DatabaseURL, e.log)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx, e.cfg.VectorTable, e.cfg.EmbeddingDimensions); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, db.Passages(e.cfg.VectorTable, e.cfg.EmbeddingDimensions), nil
}

func (e *env) ranker(client *llm.Client, idx retrieval.VectorIndex) *retrieval.Ranker {
	return retrieval.NewRanker(client, idx, retrieval.Options{
		TopK:                e.cfg.RetrievalTopK,
		SimilarityThreshold: e.cfg.SimilarityThreshold,
		MinRelevantChunks:   e.cfg.MinRelevantChunks,
		MaxContextLength:    e.cfg.MaxContextLength,
		Log:                 e.log,
	})
}

func (e *env) archive() (*archive.Archive, func(), error) {
	store, services, err := storage.New(e.cfg.S3, e.cfg.ArchiveDir, e.log)
	if err != nil {
		return nil, nil, err
	}
	for _, svc := range services {
		svc.Start()
	}
	stop := func() {
		for _, svc := range services {
			svc.Stop()
		}
	}
	return archive.New(store, e.log), stop, nil
}

func (e *env) ask(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	background := fs.String("context", "", "background context; skips retrieval")
	fs.Parse(args)

	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	u, err := transcript.New(question, 1, transcript.Final)
	if err != nil {
		return err
	}

	client, err := e.client()
	if err != nil {
		return err
	}
	db, idx, err := e.passages(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	arch, stopArchive, err := e.archive()
	if err != nil {
		return err
	}
	defer stopArchive()

	prompts, err := orchestrator.LoadPrompts(e.cfg.PromptsFile)
	if err != nil {
		return err
	}
	orch := orchestrator.New(orchestrator.Deps{
		Gate:       feedback.NewGuard(feedback.Options{Log: e.log}),
		Classifier: classify.NewClassifier(client, classify.Options{Model: e.cfg.ClassifierModel, Log: e.log}),
		Retriever:  e.ranker(client, idx),
		Generator:  client,
		Archive:    arch,
	}, orchestrator.Options{
		GenerationTimeout: e.cfg.GenerationTimeout,
		Prompts:           prompts,
		Log:               e.log,
	})

	var bg *string
	if *background != "" {
		bg = background
	}
	out, err := orch.ProcessWithContext(ctx, u, bg)
	printJSON(out)
	return err
}

func (e *env) classify(ctx context.Context, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return transcript.ErrEmptyText
	}
	client, err := e.client()
	if err != nil {
		return err
	}
	c := classify.NewClassifier(client, classify.Options{Model: e.cfg.ClassifierModel, Log: e.log})
	fmt.Println(c.Classify(ctx, text))
	return nil
}

func (e *env) retrieve(ctx context.Context, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return transcript.ErrEmptyText
	}
	client, err := e.client()
	if err != nil {
		return err
	}
	db, idx, err := e.passages(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	res := e.ranker(client, idx).Retrieve(ctx, query)
	if res.Degraded {
		return fmt.Errorf("retrieval failed (run with -v for details)")
	}
	printJSON(res)
	return nil
}

func (e *env) history(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 20, "maximum records to print; 0 prints all")
	fs.Parse(args)

	arch, stopArchive, err := e.archive()
	if err != nil {
		return err
	}
	defer stopArchive()

	records, err := arch.List(ctx)
	if err != nil {
		return err
	}
	if *limit > 0 && len(records) > *limit {
		records = records[:*limit]
	}
	printJSON(records)
	return nil
}

func (e *env) index(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	chunkLen := fs.Int("chunk", 1000, "maximum passage length in characters")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("no input files")
	}

	client, err := e.client()
	if err != nil {
		return err
	}
	db, idx, err := e.passages(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	total := 0
	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		source := filepath.Base(path)
		for i, text := range retrieval.Chunk(string(data), *chunkLen) {
			vec, err := client.Embed(ctx, text)
			if err != nil {
				return fmt.Errorf("%s chunk %d: %w", source, i, err)
			}
			err = idx.UpsertPassage(ctx, database.Passage{
				ID:        fmt.Sprintf("%s#%d", source, i),
				Content:   text,
				Metadata:  map[string]any{"source": source, "chunk": i},
				Embedding: vec,
			})
			if err != nil {
				return err
			}
			total++
		}
		fmt.Fprintf(os.Stderr, "indexed %s\n", path)
	}

	count, err := idx.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("upserted %d passages, index holds %d\n", total, count)
	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
