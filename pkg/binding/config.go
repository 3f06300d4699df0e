// Package binding turns a declarative variable configuration into a wired
// store: defaults, storage and source providers, dependency alerts and the
// local backend's collection list.
package binding

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	statesync "github.com/goliatone/go-statesync"
	"github.com/goliatone/go-statesync/pkg/provider"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNoProvider indicates a source or storage entry naming no backend.
	ErrNoProvider = errors.New("binding: provider entry names no backend")
	// ErrReadOnlyProvider indicates a storage entry using a source-only kind.
	ErrReadOnlyProvider = errors.New("binding: provider kind cannot store")
	// ErrMissingBackend indicates the configuration uses a kind no backend
	// was supplied for.
	ErrMissingBackend = errors.New("binding: no backend supplied for provider kind")
	// ErrInvalidFunction indicates a function entry without exactly one of
	// name or expr.
	ErrInvalidFunction = errors.New("binding: function entry needs exactly one of name or expr")
)

var validate = validator.New()

// Config is the declarative configuration consumed at setup.
type Config struct {
	// Namespace prefixes flat key-value keys and the local backend's schema
	// marker.
	Namespace string `yaml:"namespace" validate:"omitempty,max=64,excludesall=/:"`
	// Variables maps variable ids to their declaration.
	Variables map[string]VariableConfig `yaml:"variables" validate:"required,min=1,dive,keys,required,excludesall=<>/,endkeys"`
}

// VariableConfig declares one variable.
type VariableConfig struct {
	Default  any             `yaml:"default"`
	Source   *ProviderConfig `yaml:"source,omitempty"`
	Storage  *ProviderConfig `yaml:"storage,omitempty"`
	OnChange string          `yaml:"onChange,omitempty"`
}

// ProviderConfig names exactly one backend kind and its path.
type ProviderConfig struct {
	Remote   string          `yaml:"remote,omitempty"`
	Local    string          `yaml:"local,omitempty"`
	Flat     string          `yaml:"flat,omitempty"`
	URL      *URLConfig      `yaml:"url,omitempty"`
	Function *FunctionConfig `yaml:"function,omitempty"`
}

// URLConfig reads a query parameter.
type URLConfig struct {
	Param string `yaml:"param" validate:"required"`
}

// FunctionConfig calls a registered function or evaluates an expression.
type FunctionConfig struct {
	Name    string   `yaml:"name,omitempty"`
	Expr    string   `yaml:"expr,omitempty"`
	Engine  string   `yaml:"engine,omitempty" validate:"omitempty,oneof=expr cel js"`
	Depends []string `yaml:"depends,omitempty"`
}

// Kind returns the single backend kind the entry names.
func (p *ProviderConfig) Kind() (provider.Kind, error) {
	if p == nil {
		return "", ErrNoProvider
	}
	var kinds []provider.Kind
	if p.Remote != "" {
		kinds = append(kinds, provider.KindRemoteDocument)
	}
	if p.Local != "" {
		kinds = append(kinds, provider.KindLocalIndexed)
	}
	if p.Flat != "" {
		kinds = append(kinds, provider.KindFlatKeyValue)
	}
	if p.URL != nil {
		kinds = append(kinds, provider.KindURL)
	}
	if p.Function != nil {
		kinds = append(kinds, provider.KindFunction)
	}
	switch len(kinds) {
	case 0:
		return "", ErrNoProvider
	case 1:
		return kinds[0], nil
	default:
		names := make([]string, len(kinds))
		for i, kind := range kinds {
			names[i] = string(kind)
		}
		return "", fmt.Errorf("%w: %s", statesync.ErrAmbiguousBinding, strings.Join(names, ", "))
	}
}

// Path returns the templated path, key, parameter or function the entry
// addresses.
func (p *ProviderConfig) Path() string {
	kind, err := p.Kind()
	if err != nil {
		return ""
	}
	switch kind {
	case provider.KindRemoteDocument:
		return p.Remote
	case provider.KindLocalIndexed:
		return p.Local
	case provider.KindFlatKeyValue:
		return p.Flat
	case provider.KindURL:
		return p.URL.Param
	default:
		return p.functionSource().String()
	}
}

func (p *ProviderConfig) functionSource() provider.FunctionSource {
	return provider.FunctionSource{Name: p.Function.Name, Expr: p.Function.Expr, Engine: p.Function.Engine}
}

// references returns the variable ids the entry's value depends on.
func (p *ProviderConfig) references() []string {
	if p == nil {
		return nil
	}
	kind, err := p.Kind()
	if err != nil {
		return nil
	}
	switch kind {
	case provider.KindRemoteDocument, provider.KindLocalIndexed, provider.KindFlatKeyValue:
		return statesync.Placeholders(p.Path())
	case provider.KindFunction:
		return p.Function.Depends
	default:
		return nil
	}
}

// References returns every variable id this variable's providers depend on,
// sorted and without duplicates.
func (v VariableConfig) References() []string {
	seen := make(map[string]struct{})
	for _, id := range append(v.Source.references(), v.Storage.references()...) {
		seen[id] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// IDs returns the configured variable ids sorted alphabetically.
func (c *Config) IDs() []string {
	ids := make([]string, 0, len(c.Variables))
	for id := range c.Variables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Collections returns the distinct top-level collection names referenced by
// local-indexed source or storage paths.
func (c *Config) Collections() []string {
	seen := make(map[string]struct{})
	for _, v := range c.Variables {
		for _, p := range []*ProviderConfig{v.Source, v.Storage} {
			if p == nil || p.Local == "" {
				continue
			}
			if kind, err := p.Kind(); err != nil || kind != provider.KindLocalIndexed {
				continue
			}
			segments := statesync.Segments(p.Local)
			if len(segments) == 0 {
				continue
			}
			seen[segments[0]] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Kinds returns every provider kind the configuration uses.
func (c *Config) Kinds() []provider.Kind {
	used := make(map[provider.Kind]bool)
	for _, v := range c.Variables {
		for _, p := range []*ProviderConfig{v.Source, v.Storage} {
			if p == nil {
				continue
			}
			if kind, err := p.Kind(); err == nil {
				used[kind] = true
			}
		}
	}
	var out []provider.Kind
	for _, kind := range provider.Kinds {
		if used[kind] {
			out = append(out, kind)
		}
	}
	return out
}

// Validate checks struct tags, the one-provider-per-slot rule, source-only
// kinds, function entries and references to undefined variables. Every
// problem is reported; each is a *statesync.ConfigurationError.
func (c *Config) Validate() error {
	if c == nil {
		return &statesync.ConfigurationError{Reason: "configuration is nil"}
	}
	if err := validate.Struct(c); err != nil {
		return &statesync.ConfigurationError{Reason: "invalid configuration", Err: err}
	}

	var errs []error
	for _, id := range c.IDs() {
		v := c.Variables[id]
		if v.Source != nil {
			errs = append(errs, c.validateEntry(id, "source", v.Source, false)...)
		}
		if v.Storage != nil {
			errs = append(errs, c.validateEntry(id, "storage", v.Storage, true)...)
		}
	}
	return errors.Join(errs...)
}

func (c *Config) validateEntry(id, slot string, p *ProviderConfig, storage bool) []error {
	fail := func(err error, reason string) error {
		return &statesync.ConfigurationError{VariableID: id, Reason: slot + ": " + reason, Err: err}
	}
	kind, err := p.Kind()
	if err != nil {
		return []error{fail(err, "")}
	}
	var errs []error
	if storage && !kind.CanStore() {
		errs = append(errs, fail(ErrReadOnlyProvider, string(kind)))
	}
	if kind == provider.KindFunction {
		fn := p.Function
		if (fn.Name == "") == (fn.Expr == "") || (storage && fn.Name == "") {
			errs = append(errs, fail(ErrInvalidFunction, ""))
		}
	}
	for _, ref := range p.references() {
		if _, ok := c.Variables[ref]; !ok {
			errs = append(errs, fail(statesync.ErrUnknownVariable, fmt.Sprintf("references %q", ref)))
		}
	}
	return errs
}

// Parse decodes and validates a YAML configuration. Unknown fields are
// rejected.
func Parse(data []byte) (*Config, error) {
	return Load(bytes.NewReader(data))
}

// Load decodes and validates a YAML configuration from r.
func Load(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads the configuration at path.
func LoadFile(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &statesync.ConfigurationError{Reason: "configuration is empty"}
		}
		return nil, fmt.Errorf("binding: decode configuration: %w", err)
	}
	return &cfg, nil
}

func decodeFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("binding: open %s: %w", path, err)
	}
	defer f.Close()
	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
