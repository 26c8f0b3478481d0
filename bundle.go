package ocirun

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// BundleConfigFile is the name of the OCI container bundle config file.
const BundleConfigFile = "config.json"

// minSpecVersion is the lowest OCI runtime-spec version this parser accepts.
const minSpecVersion = "1.0.0"

// Bundle is the normalized, canonical in-memory form of an OCI bundle,
// independent of source document key ordering.
type Bundle struct {
	Path string

	Args []string
	Env  []string
	Cwd  string
	User specs.User

	RootPath     string
	RootReadonly bool

	Hostname string
	Mounts   []specs.Mount

	Namespaces []specs.LinuxNamespace
	Resources  Resources

	Capabilities *specs.LinuxCapabilities
	Seccomp      *specs.LinuxSeccomp

	// Annotations holds both the config's own annotations and any unknown
	// top-level key preserved as an annotations-bag entry: unrecognized keys
	// are kept at the top level rather than dropped, but not descended into.
	Annotations map[string]string

	Hooks *specs.Hooks

	specVersion string
	// raw keeps the decoded document around so EmitOCIConfig can round-trip
	// fields this normalized struct does not itself carry.
	raw *specs.Spec
}

// Resources is the normalized subset of linux.resources this core acts on.
type Resources struct {
	MemoryLimitBytes int64 // 0 == unlimited
	HasMemoryLimit   bool
	CPUShares        int64
	HasCPUShares     bool
	CPUQuota         int64
	CPUPeriod        int64
	HasCPUQuota      bool
	PidsLimit        int64
	HasPidsLimit     bool
	BlockIOWeight    uint16
	HasBlockIOWeight bool
}

// ParseBundle reads and validates an OCI runtime bundle directory, yielding
// a normalized Bundle or a BundleError.
func ParseBundle(bundleDir string) (*Bundle, error) {
	info, err := os.Stat(bundleDir)
	if err != nil || !info.IsDir() {
		return nil, newBundleError(BundleNotFound, bundleDir, err)
	}

	configPath, err := ValidatePathWithinRoot(bundleDir, BundleConfigFile)
	if err != nil {
		return nil, newBundleError(BundleValidationFailed, bundleDir, err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newBundleError(BundleConfigMissing, configPath, err)
		}
		return nil, newBundleError(BundleConfigMalformed, configPath, err)
	}

	spec := new(specs.Spec)
	dec := json.NewDecoder(strings.NewReader(string(data)))
	if err := dec.Decode(spec); err != nil {
		return nil, newBundleError(BundleConfigMalformed, configPath, err)
	}

	// Unknown top-level keys: decode loosely into a map and fold any key
	// that specs.Spec itself does not recognize into the annotations-bag.
	extras, err := unknownTopLevelKeys(data)
	if err != nil {
		return nil, newBundleError(BundleConfigMalformed, configPath, err)
	}

	if !supportsVersion(spec.Version) {
		return nil, newBundleError(BundleUnsupportedVersion, configPath,
			fmt.Errorf("spec version %q is < %s", spec.Version, minSpecVersion))
	}

	if spec.Root == nil || spec.Root.Path == "" {
		return nil, newBundleError(BundleValidationFailed, configPath, fmt.Errorf("root.path is required"))
	}

	rootPath := spec.Root.Path
	if !filepath.IsAbs(rootPath) {
		rootPath = filepath.Join(bundleDir, rootPath)
	}
	resolvedRoot, err := ValidatePathWithinRoot(bundleDir, rootPath)
	if err != nil {
		// root.path is permitted to point outside the bundle only for
		// absolute paths that the operator explicitly configured; any
		// escape via relative "../" components is always an error.
		if !filepath.IsAbs(spec.Root.Path) {
			return nil, newBundleError(BundleValidationFailed, configPath, err)
		}
		resolvedRoot = filepath.Clean(rootPath)
	}
	rinfo, err := os.Stat(resolvedRoot)
	if err != nil || !rinfo.IsDir() {
		return nil, newBundleError(BundleRootfsMissing, resolvedRoot, err)
	}

	if spec.Process == nil || len(spec.Process.Args) == 0 {
		return nil, newBundleError(BundleValidationFailed, configPath, fmt.Errorf("process.args must be non-empty"))
	}

	res, err := normalizeResources(spec.Linux)
	if err != nil {
		return nil, newBundleError(BundleValidationFailed, configPath, err)
	}

	b := &Bundle{
		Path:         bundleDir,
		Args:         append([]string(nil), spec.Process.Args...),
		Env:          append([]string(nil), spec.Process.Env...),
		Cwd:          defaultString(spec.Process.Cwd, "/"),
		User:         spec.Process.User,
		RootPath:     resolvedRoot,
		RootReadonly: spec.Root.Readonly,
		Hostname:     spec.Hostname,
		Mounts:       append([]specs.Mount(nil), spec.Mounts...),
		Resources:    res,
		Annotations:  mergeAnnotations(spec.Annotations, extras),
		Hooks:        spec.Hooks,
		specVersion:  spec.Version,
		raw:          spec,
	}
	if spec.Linux != nil {
		b.Namespaces = append([]specs.LinuxNamespace(nil), spec.Linux.Namespaces...)
		b.Capabilities = spec.Process.Capabilities
		b.Seccomp = spec.Linux.Seccomp
	}

	return b, nil
}

func supportsVersion(v string) bool {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) < 1 {
		return false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return false
	}
	return major >= 1
}

func normalizeResources(l *specs.Linux) (Resources, error) {
	var r Resources
	if l == nil || l.Resources == nil {
		return r, nil
	}
	res := l.Resources
	if res.Memory != nil && res.Memory.Limit != nil {
		if *res.Memory.Limit < 0 {
			return r, fmt.Errorf("linux.resources.memory.limit must be >= 0")
		}
		r.MemoryLimitBytes = *res.Memory.Limit
		r.HasMemoryLimit = true
	}
	if res.CPU != nil {
		if res.CPU.Shares != nil {
			shares := int64(*res.CPU.Shares)
			if err := ValidateCPUShares(shares); err != nil {
				return r, err
			}
			r.CPUShares = shares
			r.HasCPUShares = true
		}
		if res.CPU.Quota != nil && res.CPU.Period != nil {
			r.CPUQuota = *res.CPU.Quota
			r.CPUPeriod = int64(*res.CPU.Period)
			r.HasCPUQuota = true
		}
	}
	if res.Pids != nil {
		if res.Pids.Limit < 0 {
			return r, fmt.Errorf("linux.resources.pids.limit must be >= 0")
		}
		r.PidsLimit = res.Pids.Limit
		r.HasPidsLimit = true
	}
	if res.BlockIO != nil && res.BlockIO.Weight != nil {
		r.BlockIOWeight = *res.BlockIO.Weight
		r.HasBlockIOWeight = true
	}
	return r, nil
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func mergeAnnotations(specAnnotations, extras map[string]string) map[string]string {
	out := make(map[string]string, len(specAnnotations)+len(extras))
	for k, v := range extras {
		out[k] = v
	}
	for k, v := range specAnnotations {
		out[k] = v
	}
	return out
}

// knownTopLevelKeys lists the keys specs.Spec itself recognizes at the top
// level, used to fold anything else into the annotations-bag. Kept in sync
// with the fields this parser reads from specs.Spec.
var knownTopLevelKeys = map[string]bool{
	"ociVersion": true, "process": true, "root": true, "hostname": true,
	"mounts": true, "hooks": true, "annotations": true, "linux": true,
	"solaris": true, "windows": true, "vm": true,
}

func unknownTopLevelKeys(data []byte) (map[string]string, error) {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	extras := map[string]string{}
	for k, v := range raw {
		if knownTopLevelKeys[k] {
			continue
		}
		extras["unknown."+k] = string(v)
	}
	return extras, nil
}

// EmitOCIConfig re-emits a minimal, validated config.json for the bundle,
// used by the backend translator's OCI-runtime path to hand the backend a
// stable document. The emitted root.path is rewritten to the bundle's
// already-resolved, already-existing rootfs directory (b.RootPath) rather
// than re-emitted as the original bundle-relative path, so the document is
// self-contained at its new location: parsing the emitted file again must
// yield a spec equal to the one that produced it, which requires root.path
// to resolve to a real directory from wherever the emitted file lands.
func (b *Bundle) EmitOCIConfig(dst string) error {
	out := *b.raw
	out.Version = b.raw.Version
	out.Root = &specs.Root{Path: b.RootPath, Readonly: b.RootReadonly}
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return internalErr("failed to marshal emitted config", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return internalErr("failed to create scratch bundle dir", err)
	}
	return os.WriteFile(dst, data, 0o644)
}

// SpecVersion returns the OCI runtime-spec version string found in the
// bundle's config.json.
func (b *Bundle) SpecVersion() string { return b.specVersion }
