package asset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MaxChunkRenderDistance mirrors the window's upper bound.
const MaxChunkRenderDistance = 64

// Settings is the persisted runtime configuration.
type Settings struct {
	ChunkRenderDistance int `json:"chunk_render_distance"`
}

func DefaultSettings() Settings {
	return Settings{ChunkRenderDistance: 8}
}

// Clamped returns the settings with every field forced into range.
func (s Settings) Clamped() Settings {
	if s.ChunkRenderDistance < 0 {
		s.ChunkRenderDistance = 0
	}
	if s.ChunkRenderDistance > MaxChunkRenderDistance {
		s.ChunkRenderDistance = MaxChunkRenderDistance
	}
	return s
}

// ModelRef names a voxel model asset inside a project.
type ModelRef struct {
	Name string `json:"name"`
	Path string `json:"path"`
	// Transform is the entity placement: translation xyz in meters.
	Translation [3]float32 `json:"translation"`
}

// Project is the project.json descriptor. The core consumes only the
// model paths; the editor owns the rest.
type Project struct {
	Name     string     `json:"name"`
	Models   []ModelRef `json:"models"`
	Settings Settings   `json:"settings"`
}

func LoadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, ErrMalformedAsset)
	}
	p.Settings = p.Settings.Clamped()
	return &p, nil
}

func SaveProject(path string, p *Project) error {
	clamped := *p
	clamped.Settings = clamped.Settings.Clamped()
	data, err := json.MarshalIndent(&clamped, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ResolveModelPath makes a model path absolute relative to the project
// file.
func ResolveModelPath(projectPath, modelPath string) string {
	if filepath.IsAbs(modelPath) {
		return modelPath
	}
	return filepath.Join(filepath.Dir(projectPath), modelPath)
}
