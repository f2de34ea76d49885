package repository

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/varoOP/shinkrometa/internal/domain"
	"gopkg.in/yaml.v3"
)

// FileRepository reads and writes identifier mapping files as YAML.
type FileRepository struct {
	log zerolog.Logger
}

func NewFileRepository(log zerolog.Logger) *FileRepository {
	return &FileRepository{
		log: log.With().Str("module", "repository").Logger(),
	}
}

var _ domain.MappingRepository = (*FileRepository)(nil)

func (r *FileRepository) GetMappings(ctx context.Context, path string) (*domain.MappingFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file does not exist: %s: %w", path, err)
		}
		return nil, fmt.Errorf("failed to stat file %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	m := &domain.MappingFile{}
	if err := yaml.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml from %s: %w", path, err)
	}

	r.log.Debug().Str("path", path).Int("count", len(m.Mappings)).Msg("read mappings")
	return m, nil
}

// StoreMappings writes m with a blank line between records so the file stays
// readable when edited by hand.
func (r *FileRepository) StoreMappings(ctx context.Context, path string, m *domain.MappingFile) error {
	b, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal yaml: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	lines := strings.Split(string(b), "\n")
	for i, line := range lines {
		if i > 1 && strings.HasPrefix(line, "    - ") {
			lines[i] = "\n" + line
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write([]byte(strings.Join(lines, "\n"))); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}

	r.log.Debug().Str("path", path).Int("count", len(m.Mappings)).Msg("stored mappings")
	return nil
}
