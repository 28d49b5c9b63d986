package models

// Action lifecycle states. Pending is initial; succeeded and failed are
// terminal and never transition back.
const (
	ActionStatusPending   = "pending"
	ActionStatusRunning   = "running"
	ActionStatusSucceeded = "succeeded"
	ActionStatusFailed    = "failed"
)

// Task action types dispatched to agents.
const (
	ActionTypePowershellInline = "powershell_inline"
	ActionTypePowershellScript = "powershell_script"
	ActionTypeBashInline       = "bash_inline"
	ActionTypeBashScript       = "bash_script"
	ActionTypeSoftwareInstall  = "software_install"
	ActionTypeAgentUninstall   = "agent_uninstall"
)

const (
	ScriptLanguagePowershell = "powershell"
	ScriptLanguageBash       = "bash"
)

const (
	DeviceStatusUnknown = "unknown"
	DeviceStatusOnline  = "online"
	DeviceStatusOffline = "offline"
)

// AllowedOSTypes enumerates the OS tags accepted on devices, scripts,
// software packages, and profiles.
var AllowedOSTypes = []string{
	"windows",
	"windows_server",
	"ubuntu",
	"debian",
	"proxmox",
	"rhel",
	"centos",
	"macos",
	"other",
}

var AllowedScriptLanguages = []string{
	ScriptLanguagePowershell,
	ScriptLanguageBash,
}

var AllowedInstallerTypes = []string{
	"msi",
	"exe",
	"winget",
	"choco",
	"script",
	"custom",
}

var AllowedSourceTypes = []string{
	"url",
	"file_share",
	"local_path",
}

var AllowedActionTypes = []string{
	ActionTypePowershellInline,
	ActionTypePowershellScript,
	ActionTypeBashInline,
	ActionTypeBashScript,
	ActionTypeSoftwareInstall,
	ActionTypeAgentUninstall,
}

// ValidOSType reports whether v is one of AllowedOSTypes.
func ValidOSType(v string) bool { return contains(AllowedOSTypes, v) }

// ValidScriptLanguage reports whether v is a supported script language.
func ValidScriptLanguage(v string) bool { return contains(AllowedScriptLanguages, v) }

// ValidInstallerType reports whether v is a supported installer type.
func ValidInstallerType(v string) bool { return contains(AllowedInstallerTypes, v) }

// ValidSourceType reports whether v is a supported package source type.
func ValidSourceType(v string) bool { return contains(AllowedSourceTypes, v) }

// ValidActionType reports whether v is a dispatchable action type.
func ValidActionType(v string) bool { return contains(AllowedActionTypes, v) }

// SourcelessInstaller reports whether the installer type resolves packages
// by name through a package manager and therefore needs no source.
func SourcelessInstaller(installerType string) bool {
	return installerType == "winget" || installerType == "choco"
}

// PowershellActionType reports whether the action type executes through
// PowerShell and requires a powershell-language script.
func PowershellActionType(actionType string) bool {
	return actionType == ActionTypePowershellScript || actionType == ActionTypePowershellInline
}

// InlineActionType reports whether the action type carries its payload
// inline and therefore cannot be created without one.
func InlineActionType(actionType string) bool {
	return actionType == ActionTypePowershellInline || actionType == ActionTypeBashInline
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
