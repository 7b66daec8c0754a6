package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mesh-intelligence/anonymizer/internal/engine"
	"github.com/mesh-intelligence/anonymizer/internal/metrics"
	"github.com/mesh-intelligence/anonymizer/internal/paths"
	"github.com/mesh-intelligence/anonymizer/internal/pseudonym"
	"github.com/mesh-intelligence/anonymizer/internal/recognizer"
	"github.com/mesh-intelligence/anonymizer/internal/recognizer/ollama"
	"github.com/mesh-intelligence/anonymizer/internal/recognizer/onnx"
	"github.com/mesh-intelligence/anonymizer/pkg/store"
	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// storeConfig resolves the data directory and returns the store config.
func (a *app) storeConfig() (types.Config, error) {
	dir, err := paths.ResolveDataDir(a.flags.dataDir, a.settings.Store.DataDir)
	if err != nil {
		return types.Config{}, fmt.Errorf("resolve data dir: %w", err)
	}
	return types.Config{
		Backend:    a.settings.Store.Backend,
		Driver:     a.settings.Store.Driver,
		DataDir:    dir,
		MaxRetries: a.settings.Store.MaxRetries,
	}, nil
}

// openStore attaches the configured store. The caller must Detach it.
func (a *app) openStore() (types.EntityStore, error) {
	cfg, err := a.storeConfig()
	if err != nil {
		return nil, sysError(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, userError(fmt.Errorf("store config: %w", err))
	}
	s, err := store.Open(cfg, a.log)
	if err != nil {
		return nil, sysError(err)
	}
	return s, nil
}

func (a *app) loadKey() (*pseudonym.Key, error) {
	key, err := pseudonym.LoadKey(pseudonym.KeyOptions{
		Env:  a.settings.Secret.Env,
		KDF:  a.settings.Secret.KDF,
		Salt: a.settings.Secret.Salt,
	})
	if err != nil {
		return nil, sysError(err)
	}
	return key, nil
}

// buildOracle returns the configured statistical recognizer wrapped in a
// result cache, and a function releasing its resources. A nil oracle means
// pattern recognizers only.
func (a *app) buildOracle() (recognizer.Oracle, func(), error) {
	rs := a.settings.Recognizer
	noop := func() {}

	var inner recognizer.Oracle
	release := noop
	switch rs.Oracle {
	case "", OracleNone:
		return nil, noop, nil
	case OracleOllama:
		inner = ollama.New(ollama.Config{
			Endpoint:    rs.Ollama.Endpoint,
			Model:       rs.Ollama.Model,
			Timeout:     rs.Ollama.Timeout,
			Concurrency: a.settings.Anonymize.Workers,
		}, a.log)
	case OracleONNX:
		m, err := onnx.Load(onnx.Config{
			ModelDir:    rs.ONNX.ModelDir,
			LibraryPath: rs.ONNX.LibraryPath,
			SeqLen:      rs.ONNX.SeqLen,
			LowerCase:   rs.ONNX.LowerCase,
		}, a.log)
		if err != nil {
			return nil, noop, sysError(fmt.Errorf("load onnx model: %w", err))
		}
		inner = m
		release = func() { _ = m.Close() }
	default:
		return nil, noop, userError(fmt.Errorf("unknown recognizer.oracle %q", rs.Oracle))
	}

	if rs.CacheSize <= 0 {
		return inner, release, nil
	}
	cached, err := recognizer.NewCachedOracle(inner, rs.CacheSize)
	if err != nil {
		release()
		return nil, noop, sysError(err)
	}
	return cached, release, nil
}

// session bundles the collaborators of an engine-backed command.
type session struct {
	engine  *engine.Engine
	store   types.EntityStore
	metrics *metrics.Run
	release func()
}

func (s *session) Close() {
	s.release()
	_ = s.store.Detach()
}

// newSession loads the key, opens the store and builds the engine. withOracle
// is false for reversal, which never recognizes.
func (a *app) newSession(withOracle bool) (*session, error) {
	key, err := a.loadKey()
	if err != nil {
		return nil, err
	}
	oracle, release := recognizer.Oracle(nil), func() {}
	if withOracle {
		if oracle, release, err = a.buildOracle(); err != nil {
			return nil, err
		}
	}
	st, err := a.openStore()
	if err != nil {
		release()
		return nil, err
	}
	fold := pseudonym.NewFoldPolicy(a.settings.Normalize.CaseFold)
	m := metrics.New()
	e, err := engine.New(engine.Config{
		Oracle:  oracle,
		Store:   st,
		Key:     key,
		Fold:    &fold,
		Metrics: m,
		Logger:  a.log,
	})
	if err != nil {
		release()
		_ = st.Detach()
		return nil, sysError(err)
	}
	return &session{engine: e, store: st, metrics: m, release: release}, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
