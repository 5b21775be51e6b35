package generation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/goccy/go-json"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/loqalabs/loqa-quiz/internal/quiz"
)

// wasmGenerator runs a WASI command module once per quiz. The module reads
// the same request as the exec backend on stdin and prints a JSON array of
// questions on stdout.
type wasmGenerator struct {
	mu       sync.Mutex
	rt       wazero.Runtime
	compiled wazero.CompiledModule
}

// NewWasmGenerator compiles the module at path. Close releases the runtime.
func NewWasmGenerator(ctx context.Context, path string) (Generator, error) {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wasm module: %w", err)
	}
	return newWasmGenerator(ctx, wasmBytes)
}

func newWasmGenerator(ctx context.Context, wasmBytes []byte) (*wasmGenerator, error) {
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}
	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("compile module: %w", err)
	}
	return &wasmGenerator{rt: rt, compiled: compiled}, nil
}

func (g *wasmGenerator) Generate(ctx context.Context, req quiz.StartRequest) ([]quiz.Question, error) {
	input, err := json.Marshal(execRequest{Topic: req.Topic, QuestionCount: req.QuestionCount, Difficulty: req.Difficulty})
	if err != nil {
		return nil, &quiz.GenerationError{Err: err}
	}

	var stdout, stderr bytes.Buffer
	moduleConfig := wazero.NewModuleConfig().
		WithName("").
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	g.mu.Lock()
	module, err := g.rt.InstantiateModule(ctx, g.compiled, moduleConfig)
	g.mu.Unlock()
	if module != nil {
		defer module.Close(ctx)
	}
	var exit *sys.ExitError
	if err != nil && !(errors.As(err, &exit) && exit.ExitCode() == 0) {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return nil, &quiz.GenerationError{Err: fmt.Errorf("generation module failed: %w", err)}
	}

	questions, _, err := Sanitize(stdout.Bytes(), req.QuestionCount)
	if err != nil {
		return nil, &quiz.GenerationError{Err: fmt.Errorf("decode generation output: %w", err)}
	}
	return questions, nil
}

func (g *wasmGenerator) Close(ctx context.Context) error {
	return g.rt.Close(ctx)
}
