package binding

import (
	"github.com/goliatone/go-statesync/internal/clone"
)

// MergeLayers composes configurations ordered from strongest to weakest,
// returning a new configuration that keeps explicit settings from stronger
// layers while filling anything missing from weaker ones.
//
// A variable declared in several layers takes each field from the strongest
// layer setting it. Source and storage entries are replaced whole, so a merge
// never yields an ambiguous binding. Map defaults merge key by key; any other
// default is replaced. A nil default inherits the weaker one.
func MergeLayers(layers ...*Config) *Config {
	merged := &Config{Variables: make(map[string]VariableConfig)}
	for i := len(layers) - 1; i >= 0; i-- {
		layer := layers[i]
		if layer == nil {
			continue
		}
		if layer.Namespace != "" {
			merged.Namespace = layer.Namespace
		}
		for id, strong := range layer.Variables {
			weak, ok := merged.Variables[id]
			if !ok {
				merged.Variables[id] = clone.Value(strong)
				continue
			}
			merged.Variables[id] = mergeVariable(clone.Value(strong), weak)
		}
	}
	return merged
}

func mergeVariable(strong, weak VariableConfig) VariableConfig {
	out := weak
	out.Default = mergeDefault(strong.Default, weak.Default)
	if strong.Source != nil {
		out.Source = strong.Source
	}
	if strong.Storage != nil {
		out.Storage = strong.Storage
	}
	if strong.OnChange != "" {
		out.OnChange = strong.OnChange
	}
	return out
}

func mergeDefault(strong, weak any) any {
	if strong == nil {
		return weak
	}
	strongMap, ok := strong.(map[string]any)
	if !ok {
		return strong
	}
	weakMap, ok := weak.(map[string]any)
	if !ok {
		return strong
	}
	out := make(map[string]any, len(weakMap)+len(strongMap))
	for key, value := range weakMap {
		out[key] = value
	}
	for key, value := range strongMap {
		out[key] = mergeDefault(value, weakMap[key])
	}
	return out
}

// LoadFiles decodes every file, merges them with later files overriding
// earlier ones and validates the result. Only the merged configuration has
// to be complete: an override file may reference variables declared in a
// base file.
func LoadFiles(paths ...string) (*Config, error) {
	layers := make([]*Config, 0, len(paths))
	for i := len(paths) - 1; i >= 0; i-- {
		cfg, err := decodeFile(paths[i])
		if err != nil {
			return nil, err
		}
		layers = append(layers, cfg)
	}
	merged := MergeLayers(layers...)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}
