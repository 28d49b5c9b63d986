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

// ImportConfig configures a bundle import.
type ImportConfig struct {
	BundlePath string
	APIBaseURL string
	Signer     *Signer
	HTTPClient *http.Client
	Stdout     io.Writer
}

// ImportResult summarises what an import changed on the target.
type ImportResult struct {
	Manifest        *Manifest
	ScriptsCreated  int
	SoftwareCreated int
	ProfilesCreated int
	Skipped         []string
}

// Import verifies a signed bundle and loads its contents into the target
// API. Scripts and software packages are matched by name and created only
// when missing; profiles whose name already exists are skipped rather
// than merged.
func Import(ctx context.Context, cfg ImportConfig) (*ImportResult, error) {
	if cfg.BundlePath == "" {
		return nil, errors.New("bundle file is required")
	}
	if cfg.APIBaseURL == "" {
		return nil, errors.New("api base url is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	manifest, files, err := readArchive(cfg.BundlePath)
	if err != nil {
		return nil, err
	}

	payload, err := manifest.SigningBytes()
	if err != nil {
		return nil, fmt.Errorf("marshal manifest for verification: %w", err)
	}
	if err := cfg.Signer.Verify(payload, manifest.Signature, manifest.SigningPublicKey); err != nil {
		return nil, fmt.Errorf("verify manifest signature: %w", err)
	}

	var (
		scripts  []ScriptSpec
		software []SoftwareSpec
		profiles []ProfileSpec
	)
	for _, entry := range manifest.Entries {
		data, ok := files[entry.Path]
		if !ok {
			return nil, fmt.Errorf("entry %q missing from archive", entry.Path)
		}
		if int64(len(data)) != entry.Size {
			return nil, fmt.Errorf("size mismatch for %q: expected %d got %d", entry.Path, entry.Size, len(data))
		}
		sum := sha256.Sum256(data)
		if !strings.EqualFold(hex.EncodeToString(sum[:]), entry.SHA256) {
			return nil, fmt.Errorf("sha256 mismatch for %q", entry.Path)
		}

		switch entry.Kind {
		case "scripts":
			var doc scriptsDoc
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return nil, fmt.Errorf("unmarshal %q: %w", entry.Path, err)
			}
			scripts = doc.Scripts
		case "software":
			var doc softwareDoc
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return nil, fmt.Errorf("unmarshal %q: %w", entry.Path, err)
			}
			software = doc.Software
		case "profiles":
			var doc profilesDoc
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return nil, fmt.Errorf("unmarshal %q: %w", entry.Path, err)
			}
			profiles = doc.Profiles
		default:
			return nil, fmt.Errorf("unsupported entry kind %q", entry.Kind)
		}
	}

	fmt.Fprintf(cfg.Stdout, "verified manifest signed at %s\n", manifest.CreatedAt.Format(time.RFC3339))

	baseURL := strings.TrimRight(cfg.APIBaseURL, "/")
	result := &ImportResult{Manifest: manifest}

	scriptIDs, created, err := syncScripts(ctx, cfg.HTTPClient, baseURL, scripts)
	if err != nil {
		return nil, err
	}
	result.ScriptsCreated = created

	softwareIDs, created, err := syncSoftware(ctx, cfg.HTTPClient, baseURL, software)
	if err != nil {
		return nil, err
	}
	result.SoftwareCreated = created

	if err := syncProfiles(ctx, cfg.HTTPClient, baseURL, profiles, scriptIDs, softwareIDs, result); err != nil {
		return nil, err
	}

	fmt.Fprintf(cfg.Stdout, "imported %d scripts, %d packages, %d profiles (%d skipped)\n",
		result.ScriptsCreated, result.SoftwareCreated, result.ProfilesCreated, len(result.Skipped))
	return result, nil
}

func readArchive(path string) (*Manifest, map[string][]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open bundle: %w", err)
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()

	tr := tar.NewReader(decoder)

	var manifestBytes []byte
	// Bundle entries are small yaml documents, so everything is held in
	// memory instead of spooling to a temp dir.
	files := map[string][]byte{}
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read tar entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		name := filepath.ToSlash(filepath.Clean(header.Name))
		if strings.HasPrefix(name, "..") {
			return nil, nil, fmt.Errorf("invalid entry path %q", header.Name)
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, nil, fmt.Errorf("read %q: %w", name, err)
		}
		if name == manifestFileName {
			manifestBytes = data
			continue
		}
		files[name] = data
	}

	if len(manifestBytes) == 0 {
		return nil, nil, errors.New("bundle missing manifest.yaml")
	}

	var manifest Manifest
	if err := yaml.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if manifest.Version != "1" {
		return nil, nil, fmt.Errorf("unsupported manifest version %q", manifest.Version)
	}
	if manifest.Signature == "" {
		return nil, nil, errors.New("manifest missing signature")
	}
	return &manifest, files, nil
}

func syncScripts(ctx context.Context, client *http.Client, baseURL string, specs []ScriptSpec) (map[string]int64, int, error) {
	var list struct {
		Scripts []models.Script `json:"scripts"`
	}
	if err := getJSON(ctx, client, baseURL+"/v1/scripts", &list); err != nil {
		return nil, 0, err
	}

	ids := map[string]int64{}
	for _, s := range list.Scripts {
		ids[s.Name] = s.ID
	}

	created := 0
	for _, spec := range specs {
		if _, ok := ids[spec.Name]; ok {
			continue
		}
		var resp struct {
			Script models.Script `json:"script"`
		}
		if err := postJSON(ctx, client, baseURL+"/v1/scripts", spec, &resp); err != nil {
			return nil, 0, fmt.Errorf("create script %q: %w", spec.Name, err)
		}
		ids[spec.Name] = resp.Script.ID
		created++
	}
	return ids, created, nil
}

func syncSoftware(ctx context.Context, client *http.Client, baseURL string, specs []SoftwareSpec) (map[string]int64, int, error) {
	var list struct {
		Software []models.SoftwarePackage `json:"software"`
	}
	if err := getJSON(ctx, client, baseURL+"/v1/software", &list); err != nil {
		return nil, 0, err
	}

	ids := map[string]int64{}
	for _, p := range list.Software {
		ids[p.Name] = p.ID
	}

	created := 0
	for _, spec := range specs {
		if _, ok := ids[spec.Name]; ok {
			continue
		}
		var resp struct {
			Software models.SoftwarePackage `json:"software"`
		}
		if err := postJSON(ctx, client, baseURL+"/v1/software", spec, &resp); err != nil {
			return nil, 0, fmt.Errorf("create software package %q: %w", spec.Name, err)
		}
		ids[spec.Name] = resp.Software.ID
		created++
	}
	return ids, created, nil
}

func syncProfiles(ctx context.Context, client *http.Client, baseURL string, specs []ProfileSpec, scriptIDs, softwareIDs map[string]int64, result *ImportResult) error {
	var list struct {
		Profiles []models.DeploymentProfile `json:"profiles"`
	}
	if err := getJSON(ctx, client, baseURL+"/v1/profiles", &list); err != nil {
		return err
	}

	existing := map[string]bool{}
	for _, p := range list.Profiles {
		existing[p.Name] = true
	}

	for _, spec := range specs {
		if existing[spec.Name] {
			result.Skipped = append(result.Skipped, spec.Name)
			continue
		}

		var resp struct {
			Profile models.DeploymentProfile `json:"profile"`
		}
		body := map[string]any{
			"name":           spec.Name,
			"description":    spec.Description,
			"target_os_type": spec.TargetOSType,
			"is_template":    spec.IsTemplate,
		}
		if err := postJSON(ctx, client, baseURL+"/v1/profiles", body, &resp); err != nil {
			return fmt.Errorf("create profile %q: %w", spec.Name, err)
		}

		tasksURL := fmt.Sprintf("%s/v1/profiles/%d/tasks", baseURL, resp.Profile.ID)
		for _, task := range spec.Tasks {
			body := map[string]any{
				"name":              task.Name,
				"description":       task.Description,
				"order_index":       task.OrderIndex,
				"action_type":       task.ActionType,
				"continue_on_error": task.ContinueOnError,
			}
			if task.Script != "" {
				id, ok := scriptIDs[task.Script]
				if !ok {
					return fmt.Errorf("profile %q task %q references unknown script %q", spec.Name, task.Name, task.Script)
				}
				body["script_id"] = id
			}
			if task.Software != "" {
				id, ok := softwareIDs[task.Software]
				if !ok {
					return fmt.Errorf("profile %q task %q references unknown software package %q", spec.Name, task.Name, task.Software)
				}
				body["software_id"] = id
			}
			if err := postJSON(ctx, client, tasksURL, body, nil); err != nil {
				return fmt.Errorf("create task %q in profile %q: %w", task.Name, spec.Name, err)
			}
		}
		result.ProfilesCreated++
	}
	return nil
}
