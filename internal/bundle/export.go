package bundle

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"deployflow/internal/models"
)

const (
	manifestFileName = "manifest.yaml"

	scriptsFileName  = "data/scripts.yaml"
	softwareFileName = "data/software.yaml"
	profilesFileName = "data/profiles.yaml"
)

// ExportConfig configures a bundle export.
type ExportConfig struct {
	APIBaseURL string
	Output     string
	Signer     *Signer
	HTTPClient *http.Client
	Now        func() time.Time
	Stdout     io.Writer
}

// Export pulls all scripts, software packages and profiles from the API,
// rewrites task references from numeric ids to names, and writes a signed
// tar.zst archive to cfg.Output.
func Export(ctx context.Context, cfg ExportConfig) (*Manifest, error) {
	if cfg.APIBaseURL == "" {
		return nil, errors.New("api base url is required")
	}
	if cfg.Output == "" {
		return nil, errors.New("output path is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	baseURL := strings.TrimRight(cfg.APIBaseURL, "/")

	scripts, software, profiles, err := fetchInventory(ctx, cfg.HTTPClient, baseURL)
	if err != nil {
		return nil, err
	}
	if len(scripts) == 0 && len(software) == 0 && len(profiles) == 0 {
		return nil, errors.New("nothing to export")
	}

	docs := []struct {
		path string
		kind string
		body any
	}{
		{scriptsFileName, "scripts", scriptsDoc{Scripts: scripts}},
		{softwareFileName, "software", softwareDoc{Software: software}},
		{profilesFileName, "profiles", profilesDoc{Profiles: profiles}},
	}

	var (
		entries  []ManifestEntry
		payloads = map[string][]byte{}
	)
	for _, doc := range docs {
		data, err := yaml.Marshal(doc.body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", doc.path, err)
		}
		sum := sha256.Sum256(data)
		entries = append(entries, ManifestEntry{
			Path:   doc.path,
			Kind:   doc.kind,
			Size:   int64(len(data)),
			SHA256: hex.EncodeToString(sum[:]),
		})
		payloads[doc.path] = data
	}

	manifest := &Manifest{
		Version:          "1",
		CreatedAt:        cfg.Now().UTC().Truncate(time.Second),
		Signer:           cfg.Signer.Recipient(),
		SigningPublicKey: cfg.Signer.PublicKeyBase64(),
		Entries:          entries,
	}

	payload, err := manifest.SigningBytes()
	if err != nil {
		return nil, fmt.Errorf("marshal manifest for signing: %w", err)
	}
	sig, err := cfg.Signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign manifest: %w", err)
	}
	manifest.Signature = sig

	manifestBytes, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	if err := writeArchive(cfg.Output, manifestBytes, entries, payloads); err != nil {
		return nil, err
	}

	fmt.Fprintf(cfg.Stdout, "wrote bundle %s (%d scripts, %d packages, %d profiles)\n",
		cfg.Output, len(scripts), len(software), len(profiles))
	return manifest, nil
}

func fetchInventory(ctx context.Context, client *http.Client, baseURL string) ([]ScriptSpec, []SoftwareSpec, []ProfileSpec, error) {
	var scriptList struct {
		Scripts []models.Script `json:"scripts"`
	}
	if err := getJSON(ctx, client, baseURL+"/v1/scripts", &scriptList); err != nil {
		return nil, nil, nil, err
	}

	var softwareList struct {
		Software []models.SoftwarePackage `json:"software"`
	}
	if err := getJSON(ctx, client, baseURL+"/v1/software", &softwareList); err != nil {
		return nil, nil, nil, err
	}

	var profileList struct {
		Profiles []models.DeploymentProfile `json:"profiles"`
	}
	if err := getJSON(ctx, client, baseURL+"/v1/profiles", &profileList); err != nil {
		return nil, nil, nil, err
	}

	scriptNames := map[int64]string{}
	scripts := make([]ScriptSpec, 0, len(scriptList.Scripts))
	for _, s := range scriptList.Scripts {
		scriptNames[s.ID] = s.Name
		scripts = append(scripts, ScriptSpec{
			Name:         s.Name,
			Description:  s.Description,
			Language:     s.Language,
			TargetOSType: s.TargetOSType,
			Content:      s.Content,
		})
	}

	softwareNames := map[int64]string{}
	software := make([]SoftwareSpec, 0, len(softwareList.Software))
	for _, p := range softwareList.Software {
		softwareNames[p.ID] = p.Name
		software = append(software, SoftwareSpec{
			Name:          p.Name,
			Version:       p.Version,
			InstallerType: p.InstallerType,
			SourceType:    p.SourceType,
			Source:        p.Source,
			InstallArgs:   p.InstallArgs,
			UninstallArgs: p.UninstallArgs,
			TargetOSType:  p.TargetOSType,
		})
	}

	profiles := make([]ProfileSpec, 0, len(profileList.Profiles))
	for _, p := range profileList.Profiles {
		if err := ctx.Err(); err != nil {
			return nil, nil, nil, err
		}

		var detail struct {
			Profile models.DeploymentProfile `json:"profile"`
			Tasks   []models.ProfileTask     `json:"tasks"`
		}
		url := fmt.Sprintf("%s/v1/profiles/%d", baseURL, p.ID)
		if err := getJSON(ctx, client, url, &detail); err != nil {
			return nil, nil, nil, err
		}

		spec := ProfileSpec{
			Name:         detail.Profile.Name,
			Description:  detail.Profile.Description,
			TargetOSType: detail.Profile.TargetOSType,
			IsTemplate:   detail.Profile.IsTemplate,
			Tasks:        make([]TaskSpec, 0, len(detail.Tasks)),
		}
		for _, task := range detail.Tasks {
			ts := TaskSpec{
				Name:            task.Name,
				Description:     task.Description,
				OrderIndex:      task.OrderIndex,
				ActionType:      task.ActionType,
				ContinueOnError: task.ContinueOnError,
			}
			if task.ScriptID != nil {
				name, ok := scriptNames[*task.ScriptID]
				if !ok {
					return nil, nil, nil, fmt.Errorf("profile %q task %q references unknown script %d",
						detail.Profile.Name, task.Name, *task.ScriptID)
				}
				ts.Script = name
			}
			if task.SoftwareID != nil {
				name, ok := softwareNames[*task.SoftwareID]
				if !ok {
					return nil, nil, nil, fmt.Errorf("profile %q task %q references unknown software package %d",
						detail.Profile.Name, task.Name, *task.SoftwareID)
				}
				ts.Software = name
			}
			spec.Tasks = append(spec.Tasks, ts)
		}
		profiles = append(profiles, spec)
	}

	return scripts, software, profiles, nil
}

func writeArchive(output string, manifest []byte, entries []ManifestEntry, payloads map[string][]byte) error {
	dir := filepath.Dir(output)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	file, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer file.Close()

	encoder, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	defer encoder.Close()

	tw := tar.NewWriter(encoder)
	defer tw.Close()

	now := time.Now().UTC()
	write := func(name string, data []byte) error {
		header := &tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(data)),
			ModTime:  now,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write header for %q: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("write body for %q: %w", name, err)
		}
		return nil
	}

	if err := write(manifestFileName, manifest); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := write(entry.Path, payloads[entry.Path]); err != nil {
			return err
		}
	}
	return nil
}
