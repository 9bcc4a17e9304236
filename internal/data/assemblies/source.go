package assemblies

import (
	"bytes"
	"io"
	"os"
	"time"

	"ilview/internal/core/errors"
	"ilview/internal/engine/metadata"
	"ilview/internal/shared/observability"
)

// Source is something an assembly image can be read from.
type Source interface {
	Name() string
	Open() (io.ReadCloser, error)
}

// FileSource reads an image from disk.
type FileSource struct {
	Path string
}

func (s FileSource) Name() string { return s.Path }

func (s FileSource) Open() (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		code := errors.CodeInternal
		if os.IsNotExist(err) {
			code = errors.CodeNotFound
		}
		return nil, errors.AddContext(errors.Wrap(err, code, "open assembly file"), errors.CtxPath, s.Path)
	}
	return f, nil
}

// MemorySource serves an image held in memory, such as a download.
type MemorySource struct {
	Label string
	Data  []byte
}

func (s MemorySource) Name() string { return s.Label }

func (s MemorySource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.Data)), nil
}

// Load reads an assembly from src in immediate mode. File sources record
// their path as the assembly location.
func Load(src Source, opts ...metadata.LoadOption) (*metadata.Assembly, error) {
	start := time.Now()
	rc, err := src.Open()
	if err != nil {
		observability.LoadFailuresTotal.WithLabelValues(string(errors.CodeOf(err))).Inc()
		return nil, err
	}
	defer rc.Close()

	if fs, ok := src.(FileSource); ok {
		opts = append([]metadata.LoadOption{metadata.WithLocation(fs.Path)}, opts...)
	}
	opts = append(opts, metadata.WithMode(metadata.ModeImmediate))
	asm, err := metadata.Load(rc, opts...)
	if err != nil {
		observability.LoadFailuresTotal.WithLabelValues(string(errors.CodeOf(err))).Inc()
		return nil, errors.AddContext(err, errors.CtxPath, src.Name())
	}
	observability.LoadDuration.WithLabelValues("immediate").Observe(time.Since(start).Seconds())
	return asm, nil
}
