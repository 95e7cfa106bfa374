// Package worker consumes document jobs from Redis Streams and runs the
// extract, rewrite and normalize pipelines.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/Kamyshanskii/pdf-engine/internal/queue/streams"
	"github.com/Kamyshanskii/pdf-engine/internal/store"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Event types carried on the document job stream.
const (
	EventIngest    = "doc.ingest"
	EventTransform = "doc.transform"
	EventNormalize = "doc.normalize"

	payloadVersion = "v1"
)

// IngestPayload asks the worker to extract text from a freshly uploaded PDF.
type IngestPayload struct {
	DocID int64 `json:"doc_id"`
}

// TransformPayload asks the worker to rewrite a document into LaTeX.
type TransformPayload struct {
	DocID            int64  `json:"doc_id"`
	BaseKind         string `json:"base_kind,omitempty"`
	FixSpelling      bool   `json:"fix_spelling"`
	ImproveStructure bool   `json:"improve_structure"`
	TOC              bool   `json:"toc"`
	Extra            string `json:"extra,omitempty"`
}

// NormalizePayload asks the worker to typeset a document without an LLM pass.
type NormalizePayload struct {
	DocID int64 `json:"doc_id"`
	TOC   bool  `json:"toc"`
}

// StoreAPI captures the store methods required by the worker.
type StoreAPI interface {
	GetDocument(ctx context.Context, id int64) (store.Document, bool, error)
	MarkProcessing(ctx context.Context, id int64) error
	MarkReady(ctx context.Context, id int64) error
	MarkError(ctx context.Context, id int64, msg string) error
	SetExtractedText(ctx context.Context, id int64, text string) error
	GetVersion(ctx context.Context, docID int64, kind string) (store.Version, bool, error)
	ReplaceSearchChunks(ctx context.Context, docID int64, kind string, chunks []string) error
}

// Rewriter produces rewritten LaTeX from a prompt pair.
type Rewriter interface {
	Rewrite(ctx context.Context, systemPrompt, userPrompt string) (content string, model string, err error)
}

// Compiler typesets LaTeX source into a PDF artifact.
type Compiler interface {
	Compile(ctx context.Context, source, outPath string, toc bool) error
}

// DraftSaver persists the draft rendition and reports where its artifact goes.
type DraftSaver interface {
	PDFPath(docID int64, kind string) string
	SaveDraft(ctx context.Context, docID int64, texSource, plainText string) error
}

// Extractor pulls plain text out of a PDF file.
type Extractor func(path string) (string, error)

// Processor drives document jobs by consuming the job stream.
type Processor struct {
	logger     *log.Logger
	store      StoreAPI
	consumer   *streams.Consumer
	rewriter   Rewriter
	compiler   Compiler
	drafts     DraftSaver
	extract    Extractor
	stream     string
	tracer     trace.Tracer
	jobCounter otelmetric.Int64Counter
	errCounter otelmetric.Int64Counter
	now        func() time.Time
}

// NewProcessor constructs a Processor.
func NewProcessor(logger *log.Logger, st StoreAPI, cons *streams.Consumer, rewriter Rewriter, compiler Compiler, drafts DraftSaver, extract Extractor, stream string, meter otelmetric.Meter, tracer trace.Tracer) *Processor {
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("worker")
	}
	proc := &Processor{
		logger:   logger,
		store:    st,
		consumer: cons,
		rewriter: rewriter,
		compiler: compiler,
		drafts:   drafts,
		extract:  extract,
		stream:   stream,
		tracer:   tracer,
		now:      time.Now,
	}
	if meter != nil {
		var err error
		proc.jobCounter, err = meter.Int64Counter("worker_jobs_processed")
		if err != nil {
			logger.Printf("warn: create job counter failed: %v", err)
		}
		proc.errCounter, err = meter.Int64Counter("worker_jobs_failed")
		if err != nil {
			logger.Printf("warn: create error counter failed: %v", err)
		}
	}
	return proc
}

// Start blocks, continuously processing document jobs until the context is cancelled.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Printf("worker processor starting; consuming stream %s", p.stream)
	for {
		select {
		case <-ctx.Done():
			p.logger.Printf("worker processor stopping: %v", ctx.Err())
			return nil
		default:
		}

		msgs, err := p.consumer.Read(ctx, p.stream, streams.WithBlock(5*time.Second), streams.WithCount(16))
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Printf("error reading stream: %v", err)
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			if err := p.Handle(ctx, msg.Envelope); err != nil {
				p.logger.Printf("error handling job %s (%s): %v", msg.ID, msg.Envelope.EventType, err)
				if p.errCounter != nil {
					p.errCounter.Add(ctx, 1)
				}
			} else if p.jobCounter != nil {
				p.jobCounter.Add(ctx, 1)
			}
			if err := p.consumer.Ack(ctx, p.stream, msg.ID); err != nil {
				p.logger.Printf("warn: failed to ack message %s: %v", msg.ID, err)
			}
		}
	}
}

// Handle dispatches one envelope to the matching job.
func (p *Processor) Handle(ctx context.Context, env streams.Envelope) error {
	ctx, span := p.tracer.Start(ctx, "worker.handle_job")
	defer span.End()

	switch env.EventType {
	case EventIngest:
		var payload IngestPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return fmt.Errorf("unmarshal ingest payload: %w", err)
		}
		return p.runIngest(ctx, payload)
	case EventTransform:
		var payload TransformPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return fmt.Errorf("unmarshal transform payload: %w", err)
		}
		return p.runTransform(ctx, payload)
	case EventNormalize:
		var payload NormalizePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return fmt.Errorf("unmarshal normalize payload: %w", err)
		}
		return p.runNormalize(ctx, payload)
	default:
		return fmt.Errorf("unknown event type %q", env.EventType)
	}
}
