// ABOUTME: Downloads the onnx models the background removal processor needs
// ABOUTME: Idempotent: files already on disk are never fetched again

// Package assets provisions the model files the rembg processor depends on.
// Provisioning runs on demand (a control request) rather than at startup, so
// a bot that never removes backgrounds never downloads the models.
package assets

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Model is one downloadable asset.
type Model struct {
	Name string
	URL  string
}

// DefaultModels are the u2net family weights used for background removal.
func DefaultModels() []Model {
	const base = "https://github.com/danielgatis/rembg/releases/download/v0.0.0"
	return []Model{
		{Name: "u2net.onnx", URL: base + "/u2net.onnx"},
		{Name: "u2net_human_seg.onnx", URL: base + "/u2net_human_seg.onnx"},
		{Name: "silueta.onnx", URL: base + "/silueta.onnx"},
	}
}

// Provisioner downloads models into a directory.
type Provisioner struct {
	dir    string
	models []Model
	client *http.Client
	logger *slog.Logger
}

// NewProvisioner creates a Provisioner targeting dir. A nil models slice uses
// DefaultModels.
func NewProvisioner(dir string, models []Model, logger *slog.Logger) *Provisioner {
	if models == nil {
		models = DefaultModels()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		dir:    dir,
		models: models,
		client: &http.Client{Timeout: 10 * time.Minute},
		logger: logger.With("component", "assets"),
	}
}

// Provision ensures every model exists in the directory, downloading the
// missing ones. Already-present files are left untouched.
func (p *Provisioner) Provision(ctx context.Context) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("creating asset directory %s: %w", p.dir, err)
	}

	for _, m := range p.models {
		dest := filepath.Join(p.dir, m.Name)
		if _, err := os.Stat(dest); err == nil {
			p.logger.Debug("model already present", "model", m.Name)
			continue
		}

		p.logger.Info("downloading model", "model", m.Name, "url", m.URL)
		if err := p.download(ctx, m.URL, dest); err != nil {
			return fmt.Errorf("provisioning %s: %w", m.Name, err)
		}
	}
	return nil
}

// download fetches the URL into dest via a temp file and rename, so a partial
// download never masquerades as a complete model.
func (p *Provisioner) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(p.dir, filepath.Base(dest)+".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), dest)
}
