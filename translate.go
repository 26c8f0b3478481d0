package ocirun

import (
	"fmt"
	"hash/fnv"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// BackendTag selects the execution substrate for a container.
type BackendTag string

const (
	BackendOCILib BackendTag = "oci-lib"
	BackendLXC    BackendTag = "lxc"
	BackendVM     BackendTag = "vm"
)

// maxVmidAttempts bounds the VMID collision-resolution loop in deriveVMID.
const maxVmidAttempts = 100

// OCIRuntimeConfig is the translated form for BackendOCILib: essentially a
// validated pass-through, re-emitted into a scratch bundle.
type OCIRuntimeConfig struct {
	ContainerID    string
	ScratchBundle  string
	OriginalBundle *Bundle
}

// LXCConfig is the translated form for BackendLXC
type LXCConfig struct {
	ContainerID    string
	Hostname       string
	MemoryBytes    int64 // 0 == unlimited
	Cores          int   // ceil(shares/1024), min 1
	RootfsRef      string
	Unprivileged   bool
	NamespaceFlags []string
	BindMounts     []LXCMount
	VMID           int
}

// LXCMount is a translated bind mount entry.
type LXCMount struct {
	Source      string
	Destination string
	Options     []string
}

// VMConfig is the translated form for BackendVM
type VMConfig struct {
	VMID        int
	Hostname    string
	MemoryMiB   int64
	Cores       int
	Net0        string
	ContainerID string
}

// namespace types the LXC backend understands; others are dropped with a
// warning.
var knownLXCNamespaces = map[specs.LinuxNamespaceType]string{
	specs.PIDNamespace:     "pid",
	specs.NetworkNamespace: "net",
	specs.IPCNamespace:     "ipc",
	specs.UTSNamespace:     "uts",
	specs.MountNamespace:   "mnt",
	specs.UserNamespace:    "user",
	specs.CgroupNamespace:  "cgroup",
}

// BackendHint records the ID-prefix preference the translator observed,
// which the Router may use or override.
type BackendHint struct {
	Tag     BackendTag
	FromID  bool
	Reasons []string
}

// HintFromID inspects an id's prefix for the lxc-/db-/vm- convention.
func HintFromID(id string) BackendHint {
	switch {
	case strings.HasPrefix(id, "lxc-"), strings.HasPrefix(id, "db-"):
		return BackendHint{Tag: BackendLXC, FromID: true, Reasons: []string{"id prefix"}}
	case strings.HasPrefix(id, "vm-"):
		return BackendHint{Tag: BackendVM, FromID: true, Reasons: []string{"id prefix"}}
	default:
		return BackendHint{Tag: BackendOCILib}
	}
}

// ToOCIRuntimeConfig re-emits a minimal config.json into a scratch bundle
// directory under the state root, so the backend sees a stable, validated
// document.
func ToOCIRuntimeConfig(b *Bundle, id, stateRoot string) (*OCIRuntimeConfig, error) {
	scratch, err := ValidatePathWithinRoot(stateRoot, id+"/scratch-bundle")
	if err != nil {
		return nil, err
	}
	if err := b.EmitOCIConfig(scratch + "/" + BundleConfigFile); err != nil {
		return nil, err
	}
	return &OCIRuntimeConfig{ContainerID: id, ScratchBundle: scratch, OriginalBundle: b}, nil
}

// ToLXCConfig translates a normalized Bundle into LXC host-tool parameters.
// Translation is deterministic for a given (Bundle, id) pair.
func ToLXCConfig(b *Bundle, id string, log Logger) (*LXCConfig, error) {
	cores := 1
	if b.Resources.HasCPUShares {
		cores = int((b.Resources.CPUShares + 1023) / 1024)
		if cores < 1 {
			cores = 1
		}
	}

	mem := int64(0)
	if b.Resources.HasMemoryLimit {
		mem = b.Resources.MemoryLimitBytes
	}

	var flags []string
	unprivileged := false
	for _, ns := range b.Namespaces {
		tag, ok := knownLXCNamespaces[ns.Type]
		if !ok {
			log.Warnf("dropping unsupported namespace type %q during LXC translation", ns.Type)
			continue
		}
		flags = append(flags, tag)
		if ns.Type == specs.UserNamespace {
			unprivileged = true
		}
	}

	var mounts []LXCMount
	for _, m := range b.Mounts {
		if m.Type != "bind" {
			continue
		}
		mounts = append(mounts, LXCMount{Source: m.Source, Destination: m.Destination, Options: append([]string(nil), m.Options...)})
	}

	vmid, err := deriveVMID(id, func(int) bool { return false })
	if err != nil {
		return nil, err
	}

	return &LXCConfig{
		ContainerID:    id,
		Hostname:       defaultString(b.Hostname, id),
		MemoryBytes:    mem,
		Cores:          cores,
		RootfsRef:      b.RootPath,
		Unprivileged:   unprivileged,
		NamespaceFlags: flags,
		BindMounts:     mounts,
		VMID:           vmid,
	}, nil
}

// ToVMConfig translates a normalized Bundle into Proxmox VM parameters.
// vmidTaken reports whether a candidate vmid is already in use on the
// target node; the translator increments the candidate until a free one is
// found, up to maxVmidAttempts, then returns VmidExhaustion.
func ToVMConfig(b *Bundle, id string, vmidTaken func(int) bool) (*VMConfig, error) {
	vmid, err := deriveVMID(id, vmidTaken)
	if err != nil {
		return nil, err
	}

	cores := 1
	if b.Resources.HasCPUShares {
		cores = int((b.Resources.CPUShares + 1023) / 1024)
		if cores < 1 {
			cores = 1
		}
	}
	memMiB := int64(512)
	if b.Resources.HasMemoryLimit && b.Resources.MemoryLimitBytes > 0 {
		memMiB = b.Resources.MemoryLimitBytes / (1024 * 1024)
		if memMiB < 1 {
			memMiB = 1
		}
	}

	return &VMConfig{
		VMID:        vmid,
		Hostname:    id,
		MemoryMiB:   memMiB,
		Cores:       cores,
		Net0:        "name=eth0,bridge=vmbr0,ip=dhcp",
		ContainerID: id,
	}, nil
}

// deriveVMID hashes the container id into a stable vmid (stable within one
// run), incrementing on collision up to maxVmidAttempts. Distinct ids that
// hash to the same vmid must map to distinct vmids within a node.
func deriveVMID(id string, taken func(int) bool) (int, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	base := int(h.Sum32()%900000) + 100 // keep in Proxmox's valid vmid range

	candidate := base
	for attempt := 0; attempt < maxVmidAttempts; attempt++ {
		if !taken(candidate) {
			return candidate, nil
		}
		candidate++
	}
	return 0, &Error{Kind: KindVmidExhaustion, Op: "translate_vmid",
		Message: fmt.Sprintf("no free vmid found for %q after %d attempts", id, maxVmidAttempts)}
}
