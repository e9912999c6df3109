// Package version stamps build/version metadata, following the same pattern
// as tetratelabs/wazero's internal/version package: a package-level variable
// overridable at link time (-ldflags "-X ...=..."), defaulting to a
// development marker when unset.
package version

// mjitVersion is overridable via -ldflags
// "-X github.com/k0kubun/yarv-mjit/internal/version.mjitVersion=...",
// mirroring wazero's internal/version.version build hook. It is emitted
// into generated C as a `// autogenerated by yarv-mjit <version>` header
// comment and
// surfaced through GetVersion for host-side diagnostics.
var mjitVersion = ""

const devVersion = "dev"

// GetVersion returns the stamped engine version, or devVersion if this
// binary wasn't built with the version linker flag.
func GetVersion() string {
	if mjitVersion != "" {
		return mjitVersion
	}
	return devVersion
}
