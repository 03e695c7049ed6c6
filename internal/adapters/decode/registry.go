package decode

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

// Factory creates a fresh decoder with zeroed stats.
type Factory func() Decoder

// Registry picks a decoder for an input file.
type Registry struct {
	factories []Factory
}

// RegistryOption configures a Registry.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	csvDelimiter rune
	extra        []Factory
}

// WithCSVDelimiter sets the delimiter of the CSV decoders the registry creates.
func WithCSVDelimiter(r rune) RegistryOption {
	return func(c *registryConfig) {
		c.csvDelimiter = r
	}
}

// WithFactory appends a decoder factory tried after the built-in ones.
func WithFactory(f Factory) RegistryOption {
	return func(c *registryConfig) {
		if f != nil {
			c.extra = append(c.extra, f)
		}
	}
}

// NewRegistry creates a registry trying NDJSON first, then CSV.
func NewRegistry(opts ...RegistryOption) *Registry {
	cfg := registryConfig{csvDelimiter: ','}
	for _, opt := range opts {
		opt(&cfg)
	}
	delim := cfg.csvDelimiter
	r := &Registry{
		factories: []Factory{
			func() Decoder { return NewNDJSONDecoder() },
			func() Decoder { return NewCSVDecoder(WithDelimiter(delim)) },
		},
	}
	r.factories = append(r.factories, cfg.extra...)
	return r
}

// ForPath returns a new instance of the first decoder whose Validate accepts path.
func (r *Registry) ForPath(path string) (Decoder, error) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	for _, f := range r.factories {
		d := f()
		if d.Validate(path) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s; supported extensions: %s",
		ErrUnsupportedFormat, path, strings.Join(r.Extensions(), ", "))
}

// Extensions returns every supported extension, sorted.
func (r *Registry) Extensions() []string {
	var exts []string
	for _, f := range r.factories {
		for _, e := range f().Extensions() {
			if !slices.Contains(exts, e) {
				exts = append(exts, e)
			}
		}
	}
	slices.Sort(exts)
	return exts
}
