package bundle

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is the signed metadata written at the root of every bundle.
// The signature covers the manifest with the Signature field blanked,
// so tampering with any entry hash invalidates it.
type Manifest struct {
	Version          string          `yaml:"version"`
	CreatedAt        time.Time       `yaml:"created_at"`
	Signer           string          `yaml:"signer,omitempty"`
	SigningPublicKey string          `yaml:"signing_public_key,omitempty"`
	Signature        string          `yaml:"signature,omitempty"`
	Entries          []ManifestEntry `yaml:"entries"`
}

// SigningBytes marshals the manifest without its signature for
// signing and verification.
func (m Manifest) SigningBytes() ([]byte, error) {
	clone := m
	clone.Signature = ""
	return yaml.Marshal(clone)
}

// ManifestEntry describes one document file inside the archive.
type ManifestEntry struct {
	Path   string `yaml:"path"`
	Kind   string `yaml:"kind"`
	Size   int64  `yaml:"size"`
	SHA256 string `yaml:"sha256"`
}

// ScriptSpec is the portable form of a script. Scripts travel by name;
// numeric ids never cross an installation boundary.
type ScriptSpec struct {
	Name         string `yaml:"name" json:"name"`
	Description  string `yaml:"description,omitempty" json:"description"`
	Language     string `yaml:"language" json:"language"`
	TargetOSType string `yaml:"target_os_type,omitempty" json:"target_os_type"`
	Content      string `yaml:"content" json:"content"`
}

// SoftwareSpec is the portable form of a software package definition.
type SoftwareSpec struct {
	Name          string `yaml:"name" json:"name"`
	Version       string `yaml:"version,omitempty" json:"version"`
	InstallerType string `yaml:"installer_type" json:"installer_type"`
	SourceType    string `yaml:"source_type,omitempty" json:"source_type"`
	Source        string `yaml:"source,omitempty" json:"source"`
	InstallArgs   string `yaml:"install_args,omitempty" json:"install_args"`
	UninstallArgs string `yaml:"uninstall_args,omitempty" json:"uninstall_args"`
	TargetOSType  string `yaml:"target_os_type,omitempty" json:"target_os_type"`
}

// ProfileSpec is the portable form of a deployment profile with its
// ordered tasks inlined.
type ProfileSpec struct {
	Name         string     `yaml:"name" json:"name"`
	Description  string     `yaml:"description,omitempty" json:"description"`
	TargetOSType string     `yaml:"target_os_type,omitempty" json:"target_os_type"`
	IsTemplate   bool       `yaml:"is_template,omitempty" json:"is_template"`
	Tasks        []TaskSpec `yaml:"tasks" json:"tasks"`
}

// TaskSpec is one profile step, referencing scripts and software
// packages by name.
type TaskSpec struct {
	Name            string `yaml:"name" json:"name"`
	Description     string `yaml:"description,omitempty" json:"description"`
	OrderIndex      int    `yaml:"order_index" json:"order_index"`
	ActionType      string `yaml:"action_type" json:"action_type"`
	Script          string `yaml:"script,omitempty" json:"script"`
	Software        string `yaml:"software,omitempty" json:"software"`
	ContinueOnError bool   `yaml:"continue_on_error" json:"continue_on_error"`
}

type scriptsDoc struct {
	Scripts []ScriptSpec `yaml:"scripts"`
}

type softwareDoc struct {
	Software []SoftwareSpec `yaml:"software"`
}

type profilesDoc struct {
	Profiles []ProfileSpec `yaml:"profiles"`
}
