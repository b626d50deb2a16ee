package behavior

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed tables/*.yaml
var embedded embed.FS

// Table file names, relative to a tables directory.
const (
	TriggersFile  = "triggers.yaml"
	IntensityFile = "intensity.yaml"
	PhasesFile    = "phases.yaml"
	EmotionsFile  = "emotions.yaml"
	GuidanceFile  = "guidance.yaml"
)

// Tables bundles every behavior configuration table.
type Tables struct {
	Triggers  *TriggerTable
	Defaults  ProfileDefaults
	Intensity IntensityConfig
	Phases    PhaseConfig
	Emotions  EmotionConfig
	Guidance  GuidanceConfig
}

// LoadTables reads the tables, taking each file from override when it exists
// there and from the embedded defaults otherwise. override may be nil.
func LoadTables(override fs.FS) (*Tables, error) {
	var (
		t   Tables
		trg triggerFile
		in  intensityFile
	)
	steps := []struct {
		name string
		dst  any
	}{
		{TriggersFile, &trg},
		{IntensityFile, &in},
		{PhasesFile, &t.Phases},
		{EmotionsFile, &t.Emotions},
		{GuidanceFile, &t.Guidance},
	}
	for _, s := range steps {
		if err := decodeTable(override, s.name, s.dst); err != nil {
			return nil, err
		}
	}

	table, err := trg.compile()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", TriggersFile, err)
	}
	t.Triggers = table
	t.Defaults = in.ProfileDefaults
	t.Intensity = in.IntensityConfig
	return &t, nil
}

// DefaultTables returns the embedded tables, compiled once.
var DefaultTables = sync.OnceValues(func() (*Tables, error) {
	return LoadTables(nil)
})

func decodeTable(override fs.FS, name string, dst any) error {
	data, err := readTable(override, name)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func readTable(override fs.FS, name string) ([]byte, error) {
	if override != nil {
		data, err := fs.ReadFile(override, name)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
	}
	data, err := embedded.ReadFile("tables/" + name)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s: %w", name, err)
	}
	return data, nil
}

// Embedded returns the raw embedded copy of a table file.
func Embedded(name string) ([]byte, error) {
	return embedded.ReadFile("tables/" + name)
}
