package domain

import "context"

// MappingFile is the on-disk form of a set of identifier mappings.
type MappingFile struct {
	Mappings []IdentifierRecord `yaml:"mappings" json:"mappings"`
}

// MappingRepository reads and writes mapping files.
type MappingRepository interface {
	GetMappings(ctx context.Context, path string) (*MappingFile, error)
	StoreMappings(ctx context.Context, path string, m *MappingFile) error
}
