// Package constants holds the small set of fixed names agpm's CLI and file
// layout agree on, the way the teacher's pkg/constants held fixed names
// shared between the compiler and the CLI.
package constants

// CLIName is the prefix used in user-facing output and in the binary name.
const CLIName = "agpm"

// ManifestFileName is the project manifest agpm reads from the current
// directory (spec.md §6).
const ManifestFileName = "agpm.toml"

// PrivateManifestFileName holds machine-local frontmatter patches that never
// get committed to the public lockfile (spec.md §6).
const PrivateManifestFileName = "agpm.private.toml"

// LockFileName is the generated, committed lockfile (spec.md §4.9).
const LockFileName = "agpm.lock"

// AgpmDirName is the bare fallback install root used by AgpmTool-layout
// resources (pkg/resource/layout.go).
const AgpmDirName = ".agpm"
