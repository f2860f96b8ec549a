package sink

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/dkeye/VoiceHub/internal/core"
	"github.com/dkeye/VoiceHub/internal/domain"
)

const fileExt = ".webm"

// FileSinks opens append-only recording files under dir:
// <dir>/<callSessionId>/<recordingId>.webm.
type FileSinks struct {
	fs  afero.Fs
	dir string
}

func NewFileSinks(fs afero.Fs, dir string) *FileSinks {
	return &FileSinks{fs: fs, dir: dir}
}

// NewOSFileSinks writes to the real filesystem.
func NewOSFileSinks(dir string) *FileSinks {
	return NewFileSinks(afero.NewOsFs(), dir)
}

func (s *FileSinks) Path(call domain.CallID, rec domain.RecordingID) string {
	return filepath.Join(s.dir, filepath.Base(string(call)), filepath.Base(string(rec))+fileExt)
}

func (s *FileSinks) Open(call domain.CallID, rec domain.RecordingID) (core.Sink, string, error) {
	path := s.Path(call, rec)
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	f, err := s.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, "", err
	}
	log.Debug().Str("module", "sink").Str("path", path).Msg("sink opened")
	return f, path, nil
}
