package resolver

import (
	"context"
	"log/slog"
	"sync"

	"ilview/internal/core/errors"
	"ilview/internal/data/assemblies"
	"ilview/internal/engine/metadata"
	"ilview/internal/engine/repository"
)

// ResponseKind says how the user answered a Request.
type ResponseKind int

const (
	RespondCancelled ResponseKind = iota
	RespondFile
	RespondFetch
	RespondAssembly
)

func (k ResponseKind) String() string {
	switch k {
	case RespondFile:
		return "file"
	case RespondFetch:
		return "fetch"
	case RespondAssembly:
		return "assembly"
	}
	return "cancelled"
}

// Response is the user's answer. Build it with the Response* helpers.
type Response struct {
	Kind       ResponseKind
	Path       string
	Repository string
	Assembly   *metadata.Assembly
}

func ResponseFile(path string) Response  { return Response{Kind: RespondFile, Path: path} }
func ResponseFetch(repo string) Response { return Response{Kind: RespondFetch, Repository: repo} }
func ResponseAssembly(asm *metadata.Assembly) Response {
	return Response{Kind: RespondAssembly, Assembly: asm}
}
func ResponseCancelled() Response { return Response{Kind: RespondCancelled} }

// Request asks the user to locate a reference. Exactly one Response must
// be sent on Reply.
type Request struct {
	Calling   *metadata.Assembly
	Reference *metadata.AssemblyName
	// Repository is the first repository holding the reference, or "".
	Repository string
	Reply      chan<- Response
}

// Fetcher downloads an assembly image from a repository.
type Fetcher interface {
	FindAvailable(ctx context.Context, addresses []string, q repository.Query) (string, bool)
	Fetch(ctx context.Context, address string, q repository.Query) ([]byte, error)
}

// InteractiveStrategy hands the reference to whoever reads Requests and
// waits for the answer. It waits as long as ctx allows.
type InteractiveStrategy struct {
	requests chan Request
	fetcher  Fetcher
	logger   *slog.Logger

	mu    sync.RWMutex
	repos []string
}

// NewInteractiveStrategy creates the strategy. fetcher may be nil when no
// repositories are configured.
func NewInteractiveStrategy(fetcher Fetcher, repositories []string, logger *slog.Logger) *InteractiveStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &InteractiveStrategy{
		requests: make(chan Request),
		fetcher:  fetcher,
		logger:   logger,
		repos:    append([]string(nil), repositories...),
	}
}

func (*InteractiveStrategy) Name() string { return "interactive" }

// Requests is the rendezvous the chooser reads from.
func (s *InteractiveStrategy) Requests() <-chan Request { return s.requests }

// SetRepositories replaces the repository list.
func (s *InteractiveStrategy) SetRepositories(repos []string) {
	s.mu.Lock()
	s.repos = append([]string(nil), repos...)
	s.mu.Unlock()
}

func (s *InteractiveStrategy) Resolve(ctx context.Context, calling *metadata.Assembly, ref *metadata.AssemblyName) (*metadata.Assembly, error) {
	s.mu.RLock()
	repos := s.repos
	s.mu.RUnlock()

	query := repository.QueryFor(calling, ref)
	available := ""
	if s.fetcher != nil && len(repos) > 0 {
		available, _ = s.fetcher.FindAvailable(ctx, repos, query)
	}

	reply := make(chan Response, 1)
	req := Request{Calling: calling, Reference: ref, Repository: available, Reply: reply}
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var resp Response
	select {
	case resp = <-reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	switch resp.Kind {
	case RespondFile:
		asm, err := assemblies.Load(assemblies.FileSource{Path: resp.Path})
		if err != nil {
			return nil, err
		}
		s.warnMismatch(ref, asm)
		return asm, nil
	case RespondFetch:
		if s.fetcher == nil {
			return nil, errors.New(errors.CodeValidationError, "no repository client configured")
		}
		data, err := s.fetcher.Fetch(ctx, resp.Repository, query)
		if err != nil {
			return nil, err
		}
		asm, err := assemblies.Load(assemblies.MemorySource{Label: resp.Repository + "/" + query.Name, Data: data})
		if err != nil {
			return nil, err
		}
		s.warnMismatch(ref, asm)
		return asm, nil
	case RespondAssembly:
		if resp.Assembly == nil {
			return nil, errResolutionCancelled
		}
		return resp.Assembly, nil
	}
	return nil, errResolutionCancelled
}

func (s *InteractiveStrategy) warnMismatch(ref *metadata.AssemblyName, asm *metadata.Assembly) {
	if asm.FullName() != ref.FullName() {
		s.logger.Warn("chosen assembly differs from reference", "reference", ref.FullName(), "assembly", asm.FullName())
	}
}
